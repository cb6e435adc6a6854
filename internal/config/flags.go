package config

import (
	"flag"
	"time"
)

// ParseFlags parses all configuration flags.
//
// Flags:
//
//	-remote-url record store base URL
//	-d local sqlite database path
//	-device-id numeric device id within the account
//	-storage-key base64 account storage key (development only)
//	-log-file write logs to a file next to the executable
//	-c/-config json file path with configs
//	-request-timeout request timeout (e.g., "30s", "1m")
//	-sync-interval periodic sync interval (e.g., "5m")
//	-sync-debounce trigger debounce window (e.g., "500ms")
func ParseFlags() *Config {
	var remoteURL string
	var databaseDSN string
	var deviceID uint
	var storageKey string
	var logToFile bool
	var jsonConfigPath string
	var requestTimeout time.Duration
	var syncInterval time.Duration
	var syncDebounce time.Duration

	flag.StringVar(&remoteURL, "remote-url", "", "Record store base URL")
	flag.StringVar(&databaseDSN, "d", "", "Local sqlite database path")
	flag.UintVar(&deviceID, "device-id", 0, "Device id within the account")
	flag.StringVar(&storageKey, "storage-key", "", "Base64 account storage key")
	flag.BoolVar(&logToFile, "log-file", false, "Write logs to a file next to the executable")
	flag.StringVar(&jsonConfigPath, "c", "", "JSON config file path")
	flag.StringVar(&jsonConfigPath, "config", "", "JSON config file path (alias)")
	flag.DurationVar(&requestTimeout, "request-timeout", 0, "Request timeout (e.g., 30s, 1m)")
	flag.DurationVar(&syncInterval, "sync-interval", 0, "Periodic sync interval (e.g., 5m)")
	flag.DurationVar(&syncDebounce, "sync-debounce", 0, "Trigger debounce window (e.g., 500ms)")

	flag.Parse()

	return &Config{
		App: App{
			DeviceID:   uint32(deviceID),
			StorageKey: storageKey,
			LogToFile:  logToFile,
		},
		Remote: Remote{
			BaseURL:        remoteURL,
			RequestTimeout: requestTimeout,
		},
		Storage: Storage{
			DSN: databaseDSN,
		},
		Sync: Sync{
			Interval: syncInterval,
			Debounce: syncDebounce,
		},
		JSONFilePath: jsonConfigPath,
	}
}
