package fieldform

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// SaveFunc is the persistence path the autosaver invokes on a dirty tick.
// It receives the form id whose draft should be flushed.
type SaveFunc func(ctx context.Context, formID string) error

// Autosaver periodically flushes dirty form state through a SaveFunc. Each
// active form owns exactly one timer resource (goroutine + ticker + cancel),
// released by Stop or Close.
type Autosaver struct {
	mu     sync.Mutex
	save   SaveFunc
	timers map[string]*autosaveTimer
	dirty  map[string]map[string]struct{}
}

type autosaveTimer struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// NewAutosaver creates an Autosaver around the given persistence path.
func NewAutosaver(save SaveFunc) *Autosaver {
	return &Autosaver{
		save:   save,
		timers: make(map[string]*autosaveTimer),
		dirty:  make(map[string]map[string]struct{}),
	}
}

// MarkDirty records a changed field path for a form. Matches the runtime's
// dirty-observer signature so it can be wired directly.
func (a *Autosaver) MarkDirty(formID, fieldPath string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	set, ok := a.dirty[formID]
	if !ok {
		set = make(map[string]struct{})
		a.dirty[formID] = set
	}
	set[fieldPath] = struct{}{}
}

// ClearDirty empties the dirty set for a form.
func (a *Autosaver) ClearDirty(formID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.dirty, formID)
}

// DirtyCount reports how many field paths are dirty for a form.
func (a *Autosaver) DirtyCount(formID string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.dirty[formID])
}

// Start begins the autosave timer for a form. Starting a second timer for
// the same form cancels and replaces the first.
func (a *Autosaver) Start(formID string, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultAutoSaveInterval
	}

	a.mu.Lock()
	existing, replaced := a.timers[formID]
	delete(a.timers, formID)
	a.mu.Unlock()
	if replaced {
		// wait outside the lock: the old goroutine's tick needs it to exit
		existing.cancel()
		<-existing.done
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &autosaveTimer{cancel: cancel, done: make(chan struct{})}
	a.mu.Lock()
	a.timers[formID] = t
	a.mu.Unlock()

	go a.run(ctx, formID, interval, t.done)
}

// Stop cancels the autosave timer for a form and waits for its goroutine to
// exit. Stopping a form with no active timer is a no-op.
func (a *Autosaver) Stop(formID string) {
	a.mu.Lock()
	t, ok := a.timers[formID]
	if ok {
		delete(a.timers, formID)
	}
	a.mu.Unlock()
	if !ok {
		return
	}
	t.cancel()
	<-t.done
}

// Close stops every active timer.
func (a *Autosaver) Close() {
	a.mu.Lock()
	timers := a.timers
	a.timers = make(map[string]*autosaveTimer)
	a.mu.Unlock()
	for _, t := range timers {
		t.cancel()
		<-t.done
	}
}

func (a *Autosaver) run(ctx context.Context, formID string, interval time.Duration, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.tick(ctx, formID)
		}
	}
}

// tick flushes the draft when at least one path is dirty since the last
// successful save. A clean tick never issues a write. A failed save keeps
// the dirty set and is retried on the next tick; it never stops the timer.
func (a *Autosaver) tick(ctx context.Context, formID string) {
	// snapshot the paths this save covers; anything marked dirty while the
	// save is in flight stays dirty for the next tick
	a.mu.Lock()
	saving := make([]string, 0, len(a.dirty[formID]))
	for path := range a.dirty[formID] {
		saving = append(saving, path)
	}
	a.mu.Unlock()
	if len(saving) == 0 {
		return
	}

	if err := a.save(ctx, formID); err != nil {
		zap.S().Warnw("draft autosave failed, will retry on next tick",
			"form", formID, "error", err)
		return
	}

	a.mu.Lock()
	set := a.dirty[formID]
	for _, path := range saving {
		delete(set, path)
	}
	if len(set) == 0 {
		delete(a.dirty, formID)
	}
	a.mu.Unlock()
}
