package models

// ItemType tags the kind of entity a storage record describes. The numeric
// values are part of the manifest wire contract and must not be reordered.
type ItemType int32

const (
	ItemTypeUnknown ItemType = iota
	ItemTypeContact
	ItemTypeGroupV1
	ItemTypeGroupV2
	ItemTypeAccount
	ItemTypeDistributionList
	ItemTypeStickerPack
	ItemTypeCallLink
	ItemTypeChatFolder
	ItemTypeNotificationProfile
)

func (t ItemType) String() string {
	switch t {
	case ItemTypeContact:
		return "contact"
	case ItemTypeGroupV1:
		return "group-v1"
	case ItemTypeGroupV2:
		return "group-v2"
	case ItemTypeAccount:
		return "account"
	case ItemTypeDistributionList:
		return "story-distribution-list"
	case ItemTypeStickerPack:
		return "sticker-pack"
	case ItemTypeCallLink:
		return "call-link"
	case ItemTypeChatFolder:
		return "chat-folder"
	case ItemTypeNotificationProfile:
		return "notification-profile"
	default:
		return "unknown"
	}
}
