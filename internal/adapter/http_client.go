package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/MKhiriev/go-record-sync/models"
)

// HTTPTransportConfig configures the resty-backed [Transport].
type HTTPTransportConfig struct {
	BaseURL string
	Timeout time.Duration
}

// HTTPTransport is the resty-backed [Transport]. The concrete type also
// exposes credential-expiry inspection for the background worker.
type HTTPTransport struct {
	client *resty.Client

	mu    sync.RWMutex
	token string
}

var _ Transport = (*HTTPTransport)(nil)

// NewHTTPTransport constructs the HTTP/REST implementation of [Transport].
func NewHTTPTransport(cfg HTTPTransportConfig) *HTTPTransport {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:8080"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}

	cli := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout)

	return &HTTPTransport{client: cli}
}

func (h *HTTPTransport) SetToken(token string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.token = strings.TrimSpace(token)
}

func (h *HTTPTransport) Token() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.token
}

// TokenExpiresSoon reports whether the stored credential expires within
// leeway. Credentials are unverified JWTs issued by the account service;
// only the "exp" claim is inspected here, the remote store does the real
// verification.
func (h *HTTPTransport) TokenExpiresSoon(leeway time.Duration) bool {
	token := h.Token()
	if token == "" {
		return true
	}

	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return true
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false // no expiry claim, assume long-lived
	}
	return time.Until(exp.Time) < leeway
}

func (h *HTTPTransport) GetManifest(ctx context.Context, greaterThanVersion uint64) (models.EncryptedManifest, error) {
	resp, err := h.authedRequest(ctx).
		SetQueryParam("greaterThanVersion", strconv.FormatUint(greaterThanVersion, 10)).
		Get("/v1/storage/manifest")
	if err != nil {
		return models.EncryptedManifest{}, fmt.Errorf("%w: get manifest: %w", ErrTransportFailure, err)
	}
	if resp.StatusCode() == http.StatusNoContent {
		return models.EncryptedManifest{}, ErrNoNewerManifest
	}
	if err = mapHTTPError(resp); err != nil {
		return models.EncryptedManifest{}, err
	}

	var manifest models.EncryptedManifest
	if err = unmarshalBody(resp, &manifest); err != nil {
		return models.EncryptedManifest{}, err
	}
	if len(manifest.Data) == 0 {
		// Some deployments answer 200 with an empty body instead of 204.
		return models.EncryptedManifest{}, ErrNoNewerManifest
	}
	return manifest, nil
}

func (h *HTTPTransport) GetRecords(ctx context.Context, keys []models.StorageID) ([]models.StorageItem, error) {
	req := struct {
		Keys []models.StorageID `json:"keys"`
	}{Keys: keys}

	resp, err := h.authedRequest(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(req).
		Post("/v1/storage/read")
	if err != nil {
		return nil, fmt.Errorf("%w: get records: %w", ErrTransportFailure, err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		// The read endpoint 404s when the store dropped the whole batch.
		return nil, fmt.Errorf("%w: %s", ErrRecordNotFound, strings.TrimSpace(string(resp.Body())))
	}
	if err = mapHTTPError(resp); err != nil {
		return nil, err
	}

	var body struct {
		Items []models.StorageItem `json:"items"`
	}
	if err = unmarshalBody(resp, &body); err != nil {
		return nil, err
	}
	return body.Items, nil
}

func (h *HTTPTransport) Write(ctx context.Context, op models.WriteOperation) error {
	resp, err := h.authedRequest(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(op).
		Put("/v1/storage")
	if err != nil {
		return fmt.Errorf("%w: write: %w", ErrTransportFailure, err)
	}
	return mapHTTPError(resp)
}

func (h *HTTPTransport) authedRequest(ctx context.Context) *resty.Request {
	req := h.client.R().SetContext(ctx)
	if token := h.Token(); token != "" {
		req.SetHeader("Authorization", "Bearer "+token)
	}
	return req
}

func unmarshalBody(resp *resty.Response, target any) error {
	body := resp.Body()
	if len(body) == 0 {
		return fmt.Errorf("%w: decode response: %w", ErrTransportFailure, errors.New("empty body"))
	}
	if err := json.Unmarshal(body, target); err != nil {
		return fmt.Errorf("%w: decode response: %w", ErrTransportFailure, err)
	}
	return nil
}
