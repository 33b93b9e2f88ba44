package taskstypes

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Task status constants. A monitor task only ever moves forward through
// these; StatusErrored and StatusTimedOut are absorbing.
type TaskStatus string

const (
	StatusPending         TaskStatus = "pending"
	StatusStarting        TaskStatus = "starting"
	StatusApplyingCookies TaskStatus = "applying_cookies"
	StatusNavigating      TaskStatus = "navigating"
	StatusPolling         TaskStatus = "polling"
	StatusAcquiring       TaskStatus = "acquiring"
	StatusHolding         TaskStatus = "holding"
	StatusFinished        TaskStatus = "finished"
	StatusErrored         TaskStatus = "errored"
	StatusTimedOut        TaskStatus = "timed_out"
)

// Terminal reports whether no further transition can happen.
func (s TaskStatus) Terminal() bool {
	return s == StatusFinished || s == StatusErrored || s == StatusTimedOut
}

// Cookie is one stored credential record, in the shape browsers export.
type Cookie struct {
	Name     string  `json:"name" toml:"name"`
	Value    string  `json:"value" toml:"value"`
	Domain   string  `json:"domain" toml:"domain"`
	Path     string  `json:"path,omitempty" toml:"path,omitempty"`
	Expires  float64 `json:"expires,omitempty" toml:"expires,omitempty"` // unix seconds, 0 = session
	HTTPOnly bool    `json:"httpOnly,omitempty" toml:"http_only,omitempty"`
	Secure   bool    `json:"secure,omitempty" toml:"secure,omitempty"`
	SameSite string  `json:"sameSite,omitempty" toml:"same_site,omitempty"`
}

// Complete reports whether the record carries a name, value and domain.
func (c Cookie) Complete() bool {
	return c.Name != "" && c.Value != "" && c.Domain != ""
}

// Account is one stored identity. Read-only to the acquisition core.
type Account struct {
	Email   string   `json:"email" toml:"email"`
	Cookies []Cookie `json:"cookies" toml:"cookies"`
}

// HasCookie reports whether a record with the given name is present.
func (a Account) HasCookie(name string) bool {
	for _, c := range a.Cookies {
		if c.Name == name {
			return true
		}
	}
	return false
}

// Proxy is an upstream proxy endpoint assigned to one session.
type Proxy struct {
	Server   string // scheme://host:port
	Username string
	Password string
}

// Display returns host:port without credentials.
func (p *Proxy) Display() string {
	if p == nil || p.Server == "" {
		return "None"
	}
	if u, err := url.Parse(p.Server); err == nil && u.Host != "" {
		return u.Host
	}
	return p.Server
}

// HasAuth reports whether the proxy needs credentials.
func (p *Proxy) HasAuth() bool {
	return p != nil && p.Username != ""
}

// ParseProxy accepts host:port, scheme://[user:pass@]host:port and
// host:port:user:pass.
func ParseProxy(raw string) (*Proxy, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("empty proxy")
	}

	if strings.Contains(raw, "://") {
		u, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy %q: %w", raw, err)
		}
		if u.Host == "" {
			return nil, fmt.Errorf("invalid proxy %q: missing host", raw)
		}
		p := &Proxy{Server: u.Scheme + "://" + u.Host}
		if u.User != nil {
			p.Username = u.User.Username()
			p.Password, _ = u.User.Password()
		}
		return p, nil
	}

	parts := strings.Split(raw, ":")
	switch len(parts) {
	case 2:
		return &Proxy{Server: "http://" + raw}, nil
	case 4:
		return &Proxy{
			Server:   "http://" + parts[0] + ":" + parts[1],
			Username: parts[2],
			Password: parts[3],
		}, nil
	default:
		return nil, fmt.Errorf("invalid proxy %q: expected host:port or host:port:user:pass", raw)
	}
}

// WorkItem is one unit of dispatch: an account, its proxy (nil for none).
// The notification sink is shared and held by the orchestrator.
type WorkItem struct {
	Account Account
	Proxy   *Proxy
}

// Rect is a viewport-relative bounding box in CSS pixels.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// NodeRef identifies one element resolved from a live page. It stays valid
// while the element is attached, even after it stops matching the selector
// it was resolved with.
type NodeRef int64

// Empty reports whether the box has no clickable area.
func (r Rect) Empty() bool {
	return r.Width <= 0 || r.Height <= 0
}

// Zone sentinel labels. Notification text depends on the exact wording.
const (
	ZoneSelected         = "Zone Selected"
	ZoneSelectionTimeout = "Zone Selection Timeout"
	ZoneUnknown          = "Unknown Zone"
	ZoneDirect           = "Direct Selection"
)

type ZoneOutcomeKind int

const (
	// ZoneFound: a zone was confirmed; Name may be empty when no label could be read.
	ZoneFound ZoneOutcomeKind = iota
	// ZoneTimedOut: the canvas attempt bound ran out without a confirmation signal.
	ZoneTimedOut
	// ZoneFailed: an internal fault interrupted selection.
	ZoneFailed
	// ZoneNotPresent: neither a canvas map nor discrete zones were on the page.
	ZoneNotPresent
)

// ZoneOutcome is the result of a zone selection attempt.
type ZoneOutcome struct {
	Kind ZoneOutcomeKind
	Name string
}

// Label renders the outcome as the literal string reported downstream.
func (z ZoneOutcome) Label() string {
	switch z.Kind {
	case ZoneFound:
		if z.Name == "" {
			return ZoneSelected
		}
		return z.Name
	case ZoneTimedOut:
		return ZoneSelectionTimeout
	case ZoneNotPresent:
		return ZoneDirect
	default:
		return ZoneUnknown
	}
}

const (
	NoTicketID        = "N/A"
	CheckCartManually = "Check cart manually"
	DetailsFailed     = "Failed to extract details"
)

// TicketResult is produced once per acquisition and not modified afterwards.
type TicketResult struct {
	TicketIDs []string `json:"ticket_ids"`
	Details   string   `json:"details"`
	FirstID   string   `json:"first_id"`
}

func NewTicketResult(ids []string, details string) TicketResult {
	first := NoTicketID
	if len(ids) > 0 {
		first = ids[0]
	}
	return TicketResult{TicketIDs: ids, Details: details, FirstID: first}
}

// FailedTicketResult is the fixed payload returned when extraction fails.
func FailedTicketResult() TicketResult {
	return TicketResult{TicketIDs: []string{}, Details: DetailsFailed, FirstID: NoTicketID}
}

type EventKind string

const (
	EventStart   EventKind = "start"
	EventSuccess EventKind = "success"
	EventError   EventKind = "error"
)

// Event is a notification payload. Only the fields relevant to Kind are set.
type Event struct {
	Kind          EventKind `json:"kind"`
	Count         int       `json:"count,omitempty"`
	Account       string    `json:"account,omitempty"`
	Zone          string    `json:"zone,omitempty"`
	SeatCount     int       `json:"seat_count,omitempty"`
	Details       string    `json:"details,omitempty"`
	Proxy         string    `json:"proxy,omitempty"`
	FirstTicketID string    `json:"first_ticket_id,omitempty"`
	Message       string    `json:"message,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

func StartEvent(count int) Event {
	return Event{Kind: EventStart, Count: count, Timestamp: time.Now().UTC()}
}

func ErrorEvent(account, message string) Event {
	return Event{Kind: EventError, Account: account, Message: message, Timestamp: time.Now().UTC()}
}

// SuccessEvent builds the success payload from the acquisition results.
func SuccessEvent(account string, zone string, seatCount int, ticket TicketResult, proxy *Proxy) Event {
	return Event{
		Kind:          EventSuccess,
		Account:       account,
		Zone:          zone,
		SeatCount:     seatCount,
		Details:       ticket.Details,
		Proxy:         proxy.Display(),
		FirstTicketID: ticket.FirstID,
		Timestamp:     time.Now().UTC(),
	}
}
