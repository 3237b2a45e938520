package types

import "time"

// MessageType discriminates inbound crawl messages.
type MessageType string

const (
	TypeStatusUpdate   MessageType = "status_update"
	TypeError          MessageType = "error"
	TypeProgress       MessageType = "progress"
	TypeCrawlStarted   MessageType = "crawl_started"
	TypeCrawlCompleted MessageType = "crawl_completed"
)

// CrawlStatus is the lifecycle state of a submitted URL.
type CrawlStatus string

const (
	StatusQueued    CrawlStatus = "queued"
	StatusRunning   CrawlStatus = "running"
	StatusCompleted CrawlStatus = "completed"
	StatusError     CrawlStatus = "error"
)

// Message is an inbound push message from the crawl service.
type Message struct {
	Type      MessageType `json:"type"`
	URL       string      `json:"url,omitempty"`
	Status    CrawlStatus `json:"status,omitempty"`
	Data      *URLData    `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
	Progress  *float64    `json:"progress,omitempty"`
	Message   string      `json:"message,omitempty"`
	Timestamp string      `json:"timestamp,omitempty"`
}

// MessageHandler receives every dispatched inbound message.
type MessageHandler func(msg Message)

// URLData is the analysis result for one submitted URL. Every analysis
// field is a pointer because partial updates only carry what changed.
type URLData struct {
	ID               string         `json:"id,omitempty"`
	URL              string         `json:"url,omitempty"`
	Title            *string        `json:"title,omitempty"`
	Status           CrawlStatus    `json:"status,omitempty"`
	HTMLVersion      *string        `json:"htmlVersion,omitempty"`
	HeadingTags      map[string]int `json:"headingTags,omitempty"`
	InternalLinks    *int           `json:"internalLinks,omitempty"`
	ExternalLinks    *int           `json:"externalLinks,omitempty"`
	BrokenLinks      []BrokenLink   `json:"brokenLinks,omitempty"`
	HasLoginForm     *bool          `json:"hasLoginForm,omitempty"`
	ErrorMessage     *string        `json:"errorMessage,omitempty"`
	CreatedAt        *time.Time     `json:"createdAt,omitempty"`
	UpdatedAt        *time.Time     `json:"updatedAt,omitempty"`
	AnalysisDuration *int           `json:"analysisDuration,omitempty"`
}

// BrokenLink is a link that failed to resolve during analysis.
type BrokenLink struct {
	URL        string `json:"url"`
	StatusCode int    `json:"statusCode"`
	Error      string `json:"error"`
}

// ConnectionStatus is the state of the realtime connection.
type ConnectionStatus string

const (
	Disconnected ConnectionStatus = "disconnected"
	Connecting   ConnectionStatus = "connecting"
	Connected    ConnectionStatus = "connected"
)

// Gauge maps a status onto a numeric value for metrics.
func (s ConnectionStatus) Gauge() float64 {
	switch s {
	case Connecting:
		return 1
	case Connected:
		return 2
	default:
		return 0
	}
}

// User is the authenticated account returned by the auth endpoints.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
	Role     string `json:"role,omitempty"`
}
