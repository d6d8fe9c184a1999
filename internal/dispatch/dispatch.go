package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"beatd/internal/schedule"
	logx "beatd/pkg/logx"

	"github.com/google/uuid"
)

// Config configures dispatch.
//
// Driver values:
//   - "http": JSON POST to the runtime's HTTP gateway (default)
//   - "log": accept everything, log it; development only
type Config struct {
	Driver    string
	Endpoint  string
	AuthToken string

	Timeout      time.Duration
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
}

// Request is one run of one entry. Every dispatch attempt carries a fresh
// request id, so a retried occurrence is a distinct request; dedup beyond
// that is the runtime's business.
type Request struct {
	ID         string          `json:"id"`
	Task       string          `json:"task"`
	Args       json.RawMessage `json:"args,omitempty"`
	Kwargs     json.RawMessage `json:"kwargs,omitempty"`
	Queue      string          `json:"queue,omitempty"`
	Exchange   string          `json:"exchange,omitempty"`
	RoutingKey string          `json:"routing_key,omitempty"`
	Priority   *int            `json:"priority,omitempty"`
	Headers    json.RawMessage `json:"headers,omitempty"`
	Expires    *time.Time      `json:"expires,omitempty"`
	EntryID    string          `json:"entry_id,omitempty"`
	EntryName  string          `json:"entry_name,omitempty"`
}

// NewRequest builds the dispatch request for an entry due at now.
func NewRequest(e *schedule.Entry, now time.Time) Request {
	return Request{
		ID:         "req_" + uuid.NewString(),
		Task:       e.Task,
		Args:       e.Args,
		Kwargs:     e.Kwargs,
		Queue:      e.Queue,
		Exchange:   e.Exchange,
		RoutingKey: e.RoutingKey,
		Priority:   e.Priority,
		Headers:    e.Headers,
		Expires:    e.ExpiresAt(now),
		EntryID:    e.ID,
		EntryName:  e.Name,
	}
}

// Dispatcher submits requests to the runtime.
type Dispatcher interface {
	Dispatch(ctx context.Context, r Request) error
}

// RejectedError means the runtime looked at the request and said no.
// Retrying the same request will not help; the entry stays due and the
// loop will try again with a fresh request later.
type RejectedError struct {
	Status int
	Reason string
}

func (e *RejectedError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("dispatch rejected (status %d)", e.Status)
	}
	return fmt.Sprintf("dispatch rejected (status %d): %s", e.Status, e.Reason)
}

// IsRejected reports whether err carries a runtime rejection.
func IsRejected(err error) bool {
	var e *RejectedError
	return errors.As(err, &e)
}

// New returns the configured dispatcher. An empty driver selects http.
func New(cfg Config, log logx.Logger) (Dispatcher, error) {
	if log.IsZero() {
		log = logx.Nop()
	}

	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "http":
		return newHTTPDispatcher(cfg, log)
	case "log":
		return newLogDispatcher(log), nil
	default:
		return nil, errors.New("unknown dispatch driver: " + driver)
	}
}
