package factory

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/lychee-technology/fieldform"
	"github.com/lychee-technology/fieldform/internal"
)

// Engine bundles the local store, the form runtime, the autosaver and the
// sync machinery behind one handle. This is the primary way for applications
// to use the fieldform package.
//
// Usage:
//
//	cfg := fieldform.DefaultConfig()
//	engine, err := factory.New(ctx, cfg)
//	if err != nil {
//	    // handle error
//	}
//	defer engine.Close()
//
//	form, _ := engine.RegisterForm(schemaJSON)
//	session, _ := engine.StartSession(ctx, form.ID, fieldform.WithIdentity("surveyor-42"))
type Engine struct {
	config    *fieldform.Config
	store     fieldform.LocalStore
	client    *internal.RemoteClient
	syncMgr   *internal.SyncManager
	uploader  *internal.AssetUploader
	autosaver *fieldform.Autosaver

	mu       sync.Mutex
	forms    map[string]*fieldform.FormConfig
	sessions map[string]*fieldform.Runtime
}

// New opens the local database, applies migrations, resets sync state left
// over from a crashed process and wires the sync stack.
func New(ctx context.Context, cfg *fieldform.Config) (*Engine, error) {
	if cfg == nil {
		cfg = fieldform.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	store, err := internal.OpenStore(cfg.Storage)
	if err != nil {
		return nil, err
	}

	if _, err := store.ResetInterrupted(ctx); err != nil {
		store.Close()
		return nil, err
	}

	client := internal.NewRemoteClient(cfg.Sync)

	engine := &Engine{
		config:   cfg,
		store:    store,
		client:   client,
		syncMgr:  internal.NewSyncManager(store, client, cfg.Sync.SchemaVersion),
		forms:    make(map[string]*fieldform.FormConfig),
		sessions: make(map[string]*fieldform.Runtime),
	}
	engine.autosaver = fieldform.NewAutosaver(engine.flushDraft)

	if cfg.Assets.Bucket != "" {
		uploader, err := internal.NewAssetUploader(ctx, cfg.Assets, store)
		if err != nil {
			store.Close()
			return nil, err
		}
		engine.uploader = uploader
	}

	return engine, nil
}

// Store exposes the local store for direct entity lookups.
func (e *Engine) Store() fieldform.LocalStore {
	return e.store
}

// Client exposes the remote client, mainly to set the auth token.
func (e *Engine) Client() *internal.RemoteClient {
	return e.client
}

// RegisterForm parses and validates a form schema document and makes the form
// available for sessions. Re-registering a form id replaces the old schema.
func (e *Engine) RegisterForm(data []byte) (*fieldform.FormConfig, error) {
	form, err := fieldform.ParseFormConfig(data)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.forms[form.ID] = form
	e.mu.Unlock()

	zap.S().Infow("form registered", "form", form.ID, "version", form.Version)
	return form, nil
}

// Form returns a registered form schema.
func (e *Engine) Form(id string) (*fieldform.FormConfig, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	form, ok := e.forms[id]
	if !ok {
		return nil, fieldform.NewNotFoundError("forms", id)
	}
	return form, nil
}

// StartSession opens a filling session for a registered form. When the form
// enables autosave the engine starts a timer that flushes dirty drafts
// through the store; only one session per form id can be active.
func (e *Engine) StartSession(ctx context.Context, formID string, opts ...fieldform.RuntimeOption) (*fieldform.Runtime, error) {
	form, err := e.Form(formID)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	if _, active := e.sessions[formID]; active {
		e.mu.Unlock()
		return nil, fieldform.NewError(fieldform.ErrorTypeInternal,
			fieldform.ErrCodeDuplicateID,
			fmt.Sprintf("a session for form %q is already active", formID))
	}
	e.mu.Unlock()

	opts = append(opts, fieldform.WithDirtyObserver(e.autosaver.MarkDirty))
	runtime, err := fieldform.NewRuntime(form, opts...)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.sessions[formID] = runtime
	e.mu.Unlock()

	if form.Settings.AutoSave {
		interval := form.Settings.AutoSaveInterval
		if interval <= 0 {
			interval = e.config.Autosave.DefaultInterval
		}
		e.autosaver.Start(formID, interval)
	}

	return runtime, nil
}

// Session returns the active session for a form, if any.
func (e *Engine) Session(formID string) (*fieldform.Runtime, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	runtime, ok := e.sessions[formID]
	return runtime, ok
}

// EndSession stops the autosave timer and, when keepDraft is set, persists a
// final draft before dropping the session.
func (e *Engine) EndSession(ctx context.Context, formID string, keepDraft bool) error {
	e.autosaver.Stop(formID)

	e.mu.Lock()
	runtime, ok := e.sessions[formID]
	delete(e.sessions, formID)
	e.mu.Unlock()
	if !ok {
		return nil
	}

	e.autosaver.ClearDirty(formID)
	if !keepDraft {
		return nil
	}
	if _, err := e.store.SaveResponse(ctx, runtime.SaveDraft()); err != nil {
		return err
	}
	return nil
}

// Submit validates the whole form, persists the completed response and ends
// the session. Validation failures leave the session running so the surveyor
// can fix and retry.
func (e *Engine) Submit(ctx context.Context, formID string) (*fieldform.SurveyRecord, fieldform.FormErrors, error) {
	e.mu.Lock()
	runtime, ok := e.sessions[formID]
	e.mu.Unlock()
	if !ok {
		return nil, nil, fieldform.NewNotFoundError("sessions", formID)
	}

	resp, errs := runtime.Submit()
	if errs.HasErrors() {
		return nil, errs, nil
	}

	rec, err := e.store.SaveResponse(ctx, resp)
	if err != nil {
		return nil, nil, err
	}

	e.autosaver.Stop(formID)
	e.autosaver.ClearDirty(formID)
	e.mu.Lock()
	delete(e.sessions, formID)
	e.mu.Unlock()

	zap.S().Infow("response submitted", "form", formID, "record", rec.ID,
		"version", rec.Version)
	return rec, nil, nil
}

// flushDraft is the autosaver's persistence path.
func (e *Engine) flushDraft(ctx context.Context, formID string) error {
	e.mu.Lock()
	runtime, ok := e.sessions[formID]
	e.mu.Unlock()
	if !ok {
		return nil
	}
	if _, err := e.store.SaveResponse(ctx, runtime.SaveDraft()); err != nil {
		return err
	}
	return nil
}

// Sync runs a full push-then-pull pass.
func (e *Engine) Sync(ctx context.Context) (*fieldform.SyncReport, error) {
	return e.syncMgr.Sync(ctx)
}

// PushPending uploads pending records without pulling.
func (e *Engine) PushPending(ctx context.Context) (*fieldform.SyncReport, error) {
	return e.syncMgr.PushPending(ctx)
}

// Pull fetches and applies remote changes without pushing.
func (e *Engine) Pull(ctx context.Context) error {
	return e.syncMgr.Pull(ctx)
}

// UploadAssets drains pending media assets to object storage. Returns an
// error when no asset bucket is configured.
func (e *Engine) UploadAssets(ctx context.Context) (*fieldform.SyncReport, error) {
	if e.uploader == nil {
		return nil, fieldform.NewInternalError("no asset bucket configured", nil)
	}
	return e.uploader.UploadPending(ctx)
}

// Close stops every autosave timer and closes the local store.
func (e *Engine) Close() error {
	e.autosaver.Close()
	return e.store.Close()
}
