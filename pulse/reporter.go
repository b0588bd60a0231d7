package pulse

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/hazyhaar/tabpulse/identity"
	"github.com/hazyhaar/tabpulse/kvstore"
)

// maxErrBody bounds how much of a failed response is quoted in the error.
const maxErrBody = 4096

// Reporter delivers heartbeats, activity reports and logout notices to the
// server. Delivery is best-effort and retry-free: the next scheduled tick is
// the implicit retry. Without a resolvable token every send is a silent
// no-op — the engine never talks to the server while logged out.
type Reporter struct {
	kv     *kvstore.Store
	ids    *identity.Store
	device DeviceInfo
	client *http.Client
	logger *slog.Logger

	mu      sync.RWMutex
	baseURL string
}

// NewReporter creates a Reporter. A nil client gets a default with a 10s
// timeout (a hung request stalls only its own logical task, never the
// scheduler's subsequent ticks).
func NewReporter(kv *kvstore.Store, ids *identity.Store, device DeviceInfo, baseURL string, client *http.Client, logger *slog.Logger) *Reporter {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reporter{
		kv:      kv,
		ids:     ids,
		device:  device,
		client:  client,
		logger:  logger,
		baseURL: baseURL,
	}
}

// SetBaseURL redirects all subsequent calls to a new endpoint. In-flight
// requests are unaffected.
func (r *Reporter) SetBaseURL(url string) {
	r.mu.Lock()
	r.baseURL = url
	r.mu.Unlock()
}

// BaseURL returns the current endpoint.
func (r *Reporter) BaseURL() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.baseURL
}

// token resolves the stored auth token. Read failures count as "no token":
// the send becomes a no-op rather than an error.
func (r *Reporter) token(ctx context.Context) (string, bool) {
	tok, ok, err := r.kv.Get(ctx, KeyToken)
	if err != nil {
		r.logger.Warn("reporter: read token", "error", err)
		return "", false
	}
	return tok, ok && tok != ""
}

// SendHeartbeat reports device presence. No-op without a token. The response
// body is parsed tolerantly: an unparseable 2xx body is a degraded success,
// not an error.
func (r *Reporter) SendHeartbeat(ctx context.Context, d HeartbeatDetails) error {
	tok, ok := r.token(ctx)
	if !ok {
		return nil
	}

	id, err := r.ids.GetOrCreate(ctx)
	if err != nil {
		return fmt.Errorf("reporter: resolve device id: %w", err)
	}

	body, err := r.post(ctx, "/device/heartbeat", tok, heartbeatPayload{
		DeviceID:    id,
		DeviceName:  r.device.Name,
		DeviceType:  r.device.Type,
		CurrentApp:  d.CurrentApp,
		CurrentPage: d.CurrentPage,
		CurrentURL:  d.CurrentURL,
		Focused:     d.Focused,
	})
	if err != nil {
		return err
	}

	var parsed map[string]any
	if len(body) > 0 && json.Unmarshal(body, &parsed) != nil {
		r.logger.Debug("reporter: heartbeat response not JSON", "size", len(body))
	}
	return nil
}

// SendActivity reports a page visit. No-op (nil response) without a token.
// An unparseable response body yields an empty ActivityResponse, not an
// error.
func (r *Reporter) SendActivity(ctx context.Context, a Activity) (*ActivityResponse, error) {
	tok, ok := r.token(ctx)
	if !ok {
		return nil, nil
	}

	id, err := r.ids.GetOrCreate(ctx)
	if err != nil {
		return nil, fmt.Errorf("reporter: resolve device id: %w", err)
	}

	body, err := r.post(ctx, "/active", tok, activityPayload{
		Device:  id,
		Title:   a.Title,
		URL:     a.URL,
		Content: a.Content,
		Focused: a.Focused,
	})
	if err != nil {
		return nil, err
	}

	var resp ActivityResponse
	if len(body) > 0 && json.Unmarshal(body, &resp) != nil {
		r.logger.Debug("reporter: activity response not JSON", "size", len(body))
		return &ActivityResponse{}, nil
	}
	return &resp, nil
}

// SendLogout notifies the server that this device is signing off. The token
// comes from the caller, which is in the middle of deleting the stored one.
// Fire-and-forget: failures are logged and never block the local logout.
func (r *Reporter) SendLogout(ctx context.Context, token string) {
	if token == "" {
		return
	}

	payload := struct {
		Device string `json:"device"`
	}{Device: r.device.Name}

	if _, err := r.post(ctx, "/device/logout", token, payload); err != nil {
		r.logger.Warn("reporter: logout notice failed", "error", err)
	}
}

// post sends a JSON body with bearer auth and returns the response body.
// Success bodies are read in full; non-2xx statuses become errors quoting
// status and up to maxErrBody bytes of body text.
func (r *Reporter) post(ctx context.Context, path, token string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("reporter: marshal %s: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.BaseURL()+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("reporter: new request %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("reporter: post %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		quote, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrBody))
		return nil, fmt.Errorf("reporter: post %s: status %d: %s", path, resp.StatusCode, quote)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		r.logger.Debug("reporter: read response", "path", path, "error", err)
	}
	return respBody, nil
}
