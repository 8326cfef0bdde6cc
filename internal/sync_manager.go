package internal

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lychee-technology/fieldform"
)

// SyncManager reconciles the local store with the remote system: push local
// pending records one at a time, then pull remote changes since the last
// checkpoint. A failed record never blocks the rest of the batch.
type SyncManager struct {
	store         fieldform.LocalStore
	client        fieldform.SyncClient
	schemaVersion int
	breaker       *CircuitBreaker

	mu       sync.Mutex
	inFlight map[string]struct{}
	pulling  bool
}

// NewSyncManager builds a sync manager over the given store and remote
// client.
func NewSyncManager(store fieldform.LocalStore, client fieldform.SyncClient, schemaVersion int) *SyncManager {
	return &SyncManager{
		store:         store,
		client:        client,
		schemaVersion: schemaVersion,
		breaker:       NewCircuitBreaker(5, 30*time.Second, time.Minute),
		inFlight:      make(map[string]struct{}),
	}
}

func (m *SyncManager) acquire(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, busy := m.inFlight[id]; busy {
		return false
	}
	m.inFlight[id] = struct{}{}
	return true
}

func (m *SyncManager) release(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.inFlight, id)
}

// PushPending uploads every pending or previously failed record. Each record
// moves pending -> syncing -> synced, or back to error on failure; the report
// lists the outcome per record. The returned error covers only store-level
// failures, never individual record rejections.
func (m *SyncManager) PushPending(ctx context.Context) (*fieldform.SyncReport, error) {
	if m.breaker.IsOpen() {
		// records stay pending and get picked up on a later pass
		return nil, fieldform.NewError(fieldform.ErrorTypeRemote,
			fieldform.ErrCodeRemoteUnavailable, "remote backoff in effect, push skipped")
	}

	records, err := m.store.PendingResponses(ctx)
	if err != nil {
		return nil, err
	}

	report := &fieldform.SyncReport{}
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return report, fieldform.NewInternalError("push cancelled", err)
		}
		if !m.acquire(rec.ID) {
			// another pass is already uploading this record
			continue
		}
		outcome := m.pushOne(ctx, rec)
		m.release(rec.ID)
		report.Outcomes = append(report.Outcomes, outcome)
	}

	if report.Failed() > 0 {
		zap.S().Warnw("push pass finished with failures",
			"synced", report.Synced(), "failed", report.Failed())
	} else if len(report.Outcomes) > 0 {
		zap.S().Infow("push pass finished", "synced", report.Synced())
	}
	return report, nil
}

func (m *SyncManager) pushOne(ctx context.Context, rec *fieldform.SurveyRecord) fieldform.RecordOutcome {
	if err := m.store.SetResponseSyncStatus(ctx, rec.ID, fieldform.SyncSyncing); err != nil {
		return fieldform.RecordOutcome{RecordID: rec.ID, Status: rec.SyncStatus, Err: err}
	}

	if err := m.client.PushRecord(ctx, rec); err != nil {
		if fieldform.IsRemoteError(err) || fieldform.IsTimeoutError(err) {
			m.breaker.RecordFailure()
		}
		zap.S().Warnw("record push failed", "record", rec.ID, "error", err)
		if stErr := m.store.SetResponseSyncStatus(ctx, rec.ID, fieldform.SyncError); stErr != nil {
			zap.S().Errorw("failed to mark record as errored", "record", rec.ID, "error", stErr)
		}
		return fieldform.RecordOutcome{RecordID: rec.ID, Status: fieldform.SyncError, Err: err}
	}

	m.breaker.RecordSuccess()
	if err := m.store.SetResponseSyncStatus(ctx, rec.ID, fieldform.SyncSynced); err != nil {
		return fieldform.RecordOutcome{RecordID: rec.ID, Status: fieldform.SyncSyncing, Err: err}
	}
	return fieldform.RecordOutcome{RecordID: rec.ID, Status: fieldform.SyncSynced}
}

// Pull fetches remote changes since the stored checkpoint and applies them.
// The checkpoint only advances once the changes are durably applied, so a
// crash between fetch and apply replays the same window on the next pull.
func (m *SyncManager) Pull(ctx context.Context) error {
	m.mu.Lock()
	if m.pulling {
		m.mu.Unlock()
		return fieldform.NewError(fieldform.ErrorTypeRemote, fieldform.ErrCodeSyncInFlight,
			"a pull is already running")
	}
	m.pulling = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.pulling = false
		m.mu.Unlock()
	}()

	if m.breaker.IsOpen() {
		return fieldform.NewError(fieldform.ErrorTypeRemote,
			fieldform.ErrCodeRemoteUnavailable, "remote backoff in effect, pull skipped")
	}

	checkpoint, err := m.store.Checkpoint(ctx)
	if err != nil {
		return err
	}

	resp, err := m.client.Pull(ctx, fieldform.PullRequest{
		LastPulledAt:  checkpoint,
		SchemaVersion: m.schemaVersion,
	})
	if err != nil {
		if fieldform.IsRemoteError(err) || fieldform.IsTimeoutError(err) {
			m.breaker.RecordFailure()
		}
		return err
	}
	m.breaker.RecordSuccess()

	if err := m.store.ApplyChanges(ctx, resp.Changes, resp.Timestamp); err != nil {
		return err
	}

	zap.S().Infow("pull applied", "since", checkpoint, "until", resp.Timestamp,
		"tables", len(resp.Changes))
	return nil
}

// Sync runs a full pass: push first so local work reaches the server, then
// pull so the reply reflects it. The push report is returned even when the
// pull fails.
func (m *SyncManager) Sync(ctx context.Context) (*fieldform.SyncReport, error) {
	report, err := m.PushPending(ctx)
	if err != nil {
		return report, err
	}
	if err := m.Pull(ctx); err != nil {
		return report, err
	}
	return report, nil
}
