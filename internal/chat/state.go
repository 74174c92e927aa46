package chat

import (
	"sync"
)

// Observer receives live updates for one turn, in the order they happen.
// Calls are made from the goroutine driving the turn and must not block for
// long.
type Observer interface {
	OnActivity(state ActivityState)
	OnSource(source SourceURL)
}

type NopObserver struct{}

func (NopObserver) OnActivity(ActivityState) {}
func (NopObserver) OnSource(SourceURL)       {}

// TurnState is the live view of a turn. It is safe for concurrent use.
type TurnState struct {
	mu       sync.Mutex
	activity ActivityState
	sources  []SourceURL
	known    map[string]struct{}
	output   string
	err      error
	done     chan struct{}
	finished bool
	observer Observer
}

func newTurnState(observer Observer) *TurnState {
	if observer == nil {
		observer = NopObserver{}
	}
	return &TurnState{
		activity: ActivityIdle,
		known:    make(map[string]struct{}),
		done:     make(chan struct{}),
		observer: observer,
	}
}

func (s *TurnState) Activity() ActivityState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activity
}

func (s *TurnState) Sources() []SourceURL {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SourceURL(nil), s.sources...)
}

// Known reports whether url is already a source of this turn.
func (s *TurnState) Known(url string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.known[url]
	return ok
}

// Done is closed once the turn has returned to idle.
func (s *TurnState) Done() <-chan struct{} {
	return s.done
}

// Output is the full generated text. It is complete once Done is closed.
func (s *TurnState) Output() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.output
}

func (s *TurnState) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *TurnState) setActivity(state ActivityState) {
	s.mu.Lock()
	if s.activity == state || s.finished {
		s.mu.Unlock()
		return
	}
	s.activity = state
	s.mu.Unlock()
	s.observer.OnActivity(state)
}

// addSources appends the urls not seen before, by exact string, and returns
// the ones that were added.
func (s *TurnState) addSources(urls []string) []SourceURL {
	var added []SourceURL
	s.mu.Lock()
	for _, url := range urls {
		if url == "" {
			continue
		}
		if _, ok := s.known[url]; ok {
			continue
		}
		s.known[url] = struct{}{}
		source := NewSourceURL(url)
		s.sources = append(s.sources, source)
		added = append(added, source)
	}
	s.mu.Unlock()
	for _, source := range added {
		s.observer.OnSource(source)
	}
	return added
}

// finish moves the turn to idle exactly once.
func (s *TurnState) finish(output string, err error) {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return
	}
	s.output = output
	s.err = err
	wasIdle := s.activity == ActivityIdle
	s.activity = ActivityIdle
	s.finished = true
	s.mu.Unlock()
	if !wasIdle {
		s.observer.OnActivity(ActivityIdle)
	}
	close(s.done)
}
