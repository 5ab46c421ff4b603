package album

import (
	"fmt"
	"sync"

	se "wuyrush.io/vtourist/errors"
	md "wuyrush.io/vtourist/models"
)

type EventKind int

const (
	// PhotoLoaded fires once a photo's image is in the cache
	PhotoLoaded EventKind = iota
	// AllLoaded fires once every fetched photo of the pin is persisted with its image cached
	AllLoaded
)

var eventKindNames = map[EventKind]string{
	PhotoLoaded: "photoLoaded",
	AllLoaded:   "allLoaded",
}

func (k EventKind) String() string {
	if n, ok := eventKindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

func (k EventKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *EventKind) UnmarshalText(b []byte) error {
	for kind, n := range eventKindNames {
		if n == string(b) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown event kind %q", b)
}

// Event notifies the progress of a single fetch or replace invocation.
type Event struct {
	Kind   EventKind `json:"kind"`
	PinID  string    `json:"pinId"`
	Photo  *md.Photo `json:"photo,omitempty"`
	Loaded int       `json:"loaded"`
	Total  int       `json:"total"`
}

// EventFunc receives events. Calls are never concurrent with each other for the same invocation.
type EventFunc func(Event)

// serialize returns an EventFunc safe to call from multiple goroutines.
func serialize(f EventFunc) EventFunc {
	if f == nil {
		return func(Event) {}
	}
	var mu sync.Mutex
	return func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		f(e)
	}
}

// Run is a fetch or replace invocation executing in background.
type Run struct {
	events chan Event
	done   chan struct{}
	res    *Result
	err    *se.Err
}

const runEventBuffer = 16

func start(fn func(EventFunc) (*Result, *se.Err)) *Run {
	r := &Run{
		events: make(chan Event, runEventBuffer),
		done:   make(chan struct{}),
	}
	go func() {
		r.res, r.err = fn(func(e Event) { r.events <- e })
		close(r.events)
		close(r.done)
	}()
	return r
}

// Events vends the events of the invocation. The channel is closed once the invocation completes.
func (r *Run) Events() <-chan Event {
	return r.events
}

// Done is closed once the invocation completes.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the invocation completes and returns its outcome. Events not yet consumed are discarded,
// so callers interested in events must drain Events before calling Wait.
func (r *Run) Wait() (*Result, *se.Err) {
	for range r.events {
	}
	<-r.done
	return r.res, r.err
}
