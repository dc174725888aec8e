package sink

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/zsiec/reel/internal/media"
)

// EmptyPolicy decides what an empty subtitle event does.
type EmptyPolicy int

const (
	// EmptyClears removes the current overlay text.
	EmptyClears EmptyPolicy = iota
	// EmptyIgnored drops empty events and keeps the current text.
	EmptyIgnored
)

func (p EmptyPolicy) String() string {
	if p == EmptyIgnored {
		return "ignore"
	}
	return "clear"
}

// ParseEmptyPolicy accepts "clear" or "ignore".
func ParseEmptyPolicy(s string) (EmptyPolicy, error) {
	switch s {
	case "", "clear":
		return EmptyClears, nil
	case "ignore":
		return EmptyIgnored, nil
	}
	return EmptyClears, fmt.Errorf("unknown subtitle empty policy %q", s)
}

// Subtitle holds the text currently shown by the overlay.
type Subtitle struct {
	policy EmptyPolicy

	mu      sync.Mutex
	current media.SubtitleEvent
	notify  chan struct{}

	shown   atomic.Int64
	cleared atomic.Int64
	ignored atomic.Int64
}

// SubtitleStats counts overlay updates.
type SubtitleStats struct {
	Shown   int64
	Cleared int64
	Ignored int64
}

// NewSubtitle creates an empty overlay.
func NewSubtitle(policy EmptyPolicy) *Subtitle {
	return &Subtitle{policy: policy, notify: make(chan struct{}, 1)}
}

// Show applies e to the overlay. It never blocks.
func (s *Subtitle) Show(e *media.SubtitleEvent) {
	if e.IsClear() {
		if s.policy == EmptyIgnored {
			s.ignored.Add(1)
			return
		}
		s.cleared.Add(1)
	} else {
		s.shown.Add(1)
	}

	s.mu.Lock()
	s.current = *e
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Updates is signalled after the overlay changes.
func (s *Subtitle) Updates() <-chan struct{} { return s.notify }

// Current returns the text on screen, empty when nothing is shown.
func (s *Subtitle) Current() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.Text
}

// Event returns the last applied event.
func (s *Subtitle) Event() media.SubtitleEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Stats returns the overlay counters.
func (s *Subtitle) Stats() SubtitleStats {
	return SubtitleStats{Shown: s.shown.Load(), Cleared: s.cleared.Load(), Ignored: s.ignored.Load()}
}
