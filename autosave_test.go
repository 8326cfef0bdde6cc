package fieldform

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type saveRecorder struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (s *saveRecorder) save(_ context.Context, formID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.calls = append(s.calls, formID)
	return nil
}

func (s *saveRecorder) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func (s *saveRecorder) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

// TestAutosaverFlushesDirtyForm tests that a dirty form is saved on the tick
// and the dirty set cleared
func TestAutosaverFlushesDirtyForm(t *testing.T) {
	rec := &saveRecorder{}
	a := NewAutosaver(rec.save)
	defer a.Close()

	a.MarkDirty("building-survey", "tole")
	a.MarkDirty("building-survey", "ward")
	assert.Equal(t, 2, a.DirtyCount("building-survey"))

	a.Start("building-survey", 10*time.Millisecond)

	waitFor(t, func() bool { return rec.count() >= 1 })
	waitFor(t, func() bool { return a.DirtyCount("building-survey") == 0 })
}

// TestAutosaverCleanTickDoesNotSave tests that clean ticks never write
func TestAutosaverCleanTickDoesNotSave(t *testing.T) {
	rec := &saveRecorder{}
	a := NewAutosaver(rec.save)
	defer a.Close()

	a.Start("building-survey", 10*time.Millisecond)
	time.Sleep(60 * time.Millisecond)

	assert.Equal(t, 0, rec.count())
}

// TestAutosaverRetriesAfterFailure tests that a failed save keeps the dirty
// set and retries on the next tick
func TestAutosaverRetriesAfterFailure(t *testing.T) {
	rec := &saveRecorder{}
	rec.setErr(errors.New("disk full"))
	a := NewAutosaver(rec.save)
	defer a.Close()

	a.MarkDirty("building-survey", "tole")
	a.Start("building-survey", 10*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, rec.count())
	assert.Equal(t, 1, a.DirtyCount("building-survey"))

	rec.setErr(nil)
	waitFor(t, func() bool { return rec.count() >= 1 })
	waitFor(t, func() bool { return a.DirtyCount("building-survey") == 0 })
}

// TestAutosaverKeepsPathsDirtiedDuringSave tests that a path marked dirty
// while a save is in flight is flushed on the following tick, not lost
func TestAutosaverKeepsPathsDirtiedDuringSave(t *testing.T) {
	rec := &saveRecorder{}
	var a *Autosaver
	a = NewAutosaver(func(ctx context.Context, formID string) error {
		if rec.count() == 0 {
			a.MarkDirty(formID, "remarks")
		}
		return rec.save(ctx, formID)
	})

	a.MarkDirty("building-survey", "tole")
	a.tick(context.Background(), "building-survey")

	assert.Equal(t, 1, rec.count())
	assert.Equal(t, 1, a.DirtyCount("building-survey"))

	a.tick(context.Background(), "building-survey")
	assert.Equal(t, 2, rec.count())
	assert.Equal(t, 0, a.DirtyCount("building-survey"))
}

// TestAutosaverStopIsIdempotent tests stopping absent and stopped timers
func TestAutosaverStopIsIdempotent(t *testing.T) {
	a := NewAutosaver((&saveRecorder{}).save)

	a.Stop("never-started")

	a.Start("building-survey", 10*time.Millisecond)
	a.Stop("building-survey")
	a.Stop("building-survey")
}

// TestAutosaverStartReplacesTimer tests that restarting a form swaps the
// timer without leaking the old goroutine
func TestAutosaverStartReplacesTimer(t *testing.T) {
	rec := &saveRecorder{}
	a := NewAutosaver(rec.save)
	defer a.Close()

	a.Start("building-survey", time.Hour)
	a.Start("building-survey", 10*time.Millisecond)

	a.MarkDirty("building-survey", "tole")
	waitFor(t, func() bool { return rec.count() >= 1 })
}

// TestAutosaverTracksFormsIndependently tests per-form dirty isolation
func TestAutosaverTracksFormsIndependently(t *testing.T) {
	rec := &saveRecorder{}
	a := NewAutosaver(rec.save)
	defer a.Close()

	a.MarkDirty("form-a", "x")
	a.MarkDirty("form-b", "y")
	a.ClearDirty("form-a")

	assert.Equal(t, 0, a.DirtyCount("form-a"))
	assert.Equal(t, 1, a.DirtyCount("form-b"))
}

// TestAutosaverClose tests that Close stops every timer
func TestAutosaverClose(t *testing.T) {
	rec := &saveRecorder{}
	a := NewAutosaver(rec.save)

	a.Start("form-a", 10*time.Millisecond)
	a.Start("form-b", 10*time.Millisecond)
	a.Close()

	a.MarkDirty("form-a", "x")
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, 0, rec.count())
}
