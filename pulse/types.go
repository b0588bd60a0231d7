package pulse

import "context"

// kvstore keys owned by the engine.
const (
	KeyToken      = "auth_token"
	KeyServerName = "server_name"
	KeyServerURL  = "server_url"
	KeyCoarseTick = "coarse_tick_at"
)

// DeviceInfo names this installation to the server.
type DeviceInfo struct {
	Name string
	Type string
}

// ServerConfig selects the reporting endpoint. Mutable at runtime; a change
// never touches identity or session state but redirects all subsequent calls.
type ServerConfig struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// HeartbeatDetails are the optional fields of a heartbeat. Absent fields are
// omitted from the wire payload.
type HeartbeatDetails struct {
	CurrentApp  string
	CurrentPage string
	CurrentURL  string
	Focused     *bool
}

// heartbeatPayload is the wire form of a heartbeat.
type heartbeatPayload struct {
	DeviceID    string `json:"device_id"`
	DeviceName  string `json:"device_name"`
	DeviceType  string `json:"device_type"`
	CurrentApp  string `json:"current_app,omitempty"`
	CurrentPage string `json:"current_page,omitempty"`
	CurrentURL  string `json:"current_url,omitempty"`
	Focused     *bool  `json:"focused,omitempty"`
}

// Activity is a page-visit report, sent alongside (not instead of) a
// heartbeat when a tab's URL changes, or alone on a focus flip.
type Activity struct {
	Title   string
	URL     string
	Content string
	Focused bool
}

// activityPayload is the wire form of an activity report.
type activityPayload struct {
	Device  string `json:"device"`
	Title   string `json:"title,omitempty"`
	URL     string `json:"url,omitempty"`
	Content string `json:"content,omitempty"`
	Focused bool   `json:"focused"`
}

// ActivityResponse is the server's answer to an activity report. A truthy
// ShowNotification with non-blank Response drives a local notification.
type ActivityResponse struct {
	ShowNotification bool   `json:"show_notification"`
	Response         string `json:"response"`
}

// TabState is the normalized view of a browser tab delivered by the
// activity observer.
type TabState struct {
	ID    string
	URL   string
	Title string
}

// Capture is the rendered-document content of a tab.
type Capture struct {
	Title   string
	URL     string
	Content string
}

// TabSource is the engine's view of the browser: enumerate the active tab
// and capture a tab's rendered content. Implemented by tabwatch.
type TabSource interface {
	ActiveTab(ctx context.Context) (TabState, bool)
	CaptureContent(ctx context.Context, tabID string) (Capture, error)
}
