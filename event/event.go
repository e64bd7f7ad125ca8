package event

import (
	"fmt"
	"time"
)

// Socket lifecycle operation names
const (
	OpCreate     = "create"
	OpSetOption  = "setsockopt"
	OpGetOption  = "getsockopt"
	OpResolve    = "getaddrinfo"
	OpBind       = "bind"
	OpConnect    = "connect"
	OpClose      = "close"
	OpRegister   = "register"
	OpUnregister = "unregister"
)

// Event describes one observed socket lifecycle operation or registry
// mutation. Events are published through a Sink so the interposition core
// never depends on any particular storage backend.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Op        string    `json:"op"`
	FD        int       `json:"fd"`
	Delegated bool      `json:"delegated"` // handled by the intent resolver rather than forwarded
	Detail    string    `json:"detail"`
	Err       string    `json:"err"`
}

// Sink receives lifecycle events. Publish must be safe for concurrent use
// and must not block the calling hook for longer than a local write.
type Sink interface {
	Publish(Event)
}

// New builds an event stamped with the current time.
func New(op string, fd int, delegated bool, detail string, err error) Event {
	e := Event{
		Timestamp: time.Now(),
		Op:        op,
		FD:        fd,
		Delegated: delegated,
		Detail:    detail,
	}
	if err != nil {
		e.Err = err.Error()
	}
	return e
}

// Format renders an event as a single display line.
func Format(e Event) string {
	mode := "forwarded"
	if e.Delegated {
		mode = "delegated"
	}

	basic := fmt.Sprintf("%s: fd=%d mode=%s", e.Op, e.FD, mode)
	if e.Detail != "" {
		basic = fmt.Sprintf("%s %s", basic, e.Detail)
	}
	if e.Err != "" {
		basic = fmt.Sprintf("%s err=%q", basic, e.Err)
	}
	return basic
}
