package factory

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lychee-technology/fieldform"
)

const surveySchema = `{
	"id": "building-survey",
	"version": "1.0.0",
	"title": "Building Survey",
	"type": "building",
	"settings": {
		"saveAsDraft": true,
		"autoSave": false
	},
	"steps": [
		{
			"id": "step-location",
			"title": "Location",
			"sections": [
				{
					"id": "sec-address",
					"title": "Address",
					"fields": [
						{
							"id": "ward",
							"type": "number",
							"label": "Ward",
							"required": true,
							"number": {"min": 1, "max": 32}
						},
						{
							"id": "tole",
							"type": "text",
							"label": "Tole",
							"required": true
						}
					]
				}
			]
		},
		{
			"id": "step-review",
			"title": "Review",
			"sections": [
				{
					"id": "sec-review",
					"title": "Review",
					"fields": [
						{
							"id": "remarks",
							"type": "textarea",
							"label": "Remarks"
						}
					]
				}
			]
		}
	]
}`

func newTestEngine(t *testing.T) *Engine {
	t.Helper()

	cfg := fieldform.DefaultConfig()
	cfg.Storage.Path = filepath.Join(t.TempDir(), "fieldform.sqlite")

	engine, err := New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { engine.Close() })
	return engine
}

// TestNewValidatesConfig tests that a broken configuration is rejected before
// any database is opened.
func TestNewValidatesConfig(t *testing.T) {
	cfg := fieldform.DefaultConfig()
	cfg.Storage.Path = ""

	_, err := New(context.Background(), cfg)
	require.Error(t, err)

	var cfgErr *fieldform.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "storage.path", cfgErr.Field)
}

// TestRegisterForm tests schema registration and lookup.
func TestRegisterForm(t *testing.T) {
	engine := newTestEngine(t)

	form, err := engine.RegisterForm([]byte(surveySchema))
	require.NoError(t, err)
	assert.Equal(t, "building-survey", form.ID)

	got, err := engine.Form("building-survey")
	require.NoError(t, err)
	assert.Equal(t, form, got)

	_, err = engine.Form("missing-form")
	assert.True(t, fieldform.IsNotFoundError(err))

	_, err = engine.RegisterForm([]byte(`{"id": "broken"`))
	assert.True(t, fieldform.IsSchemaError(err))
}

// TestStartSessionRejectsDuplicate tests that only one session per form can be
// active at a time.
func TestStartSessionRejectsDuplicate(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.RegisterForm([]byte(surveySchema))
	require.NoError(t, err)

	_, err = engine.StartSession(ctx, "building-survey")
	require.NoError(t, err)

	_, err = engine.StartSession(ctx, "building-survey")
	require.Error(t, err)
	var engineErr *fieldform.Error
	require.ErrorAs(t, err, &engineErr)
	assert.Equal(t, fieldform.ErrCodeDuplicateID, engineErr.Code)

	require.NoError(t, engine.EndSession(ctx, "building-survey", false))

	_, err = engine.StartSession(ctx, "building-survey")
	assert.NoError(t, err)
}

// TestStartSessionUnknownForm tests that sessions require a registered form.
func TestStartSessionUnknownForm(t *testing.T) {
	engine := newTestEngine(t)

	_, err := engine.StartSession(context.Background(), "building-survey")
	assert.True(t, fieldform.IsNotFoundError(err))
}

// TestSubmitPersistsPendingRecord tests the full fill-and-submit path through
// the engine into the local store.
func TestSubmitPersistsPendingRecord(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.RegisterForm([]byte(surveySchema))
	require.NoError(t, err)

	session, err := engine.StartSession(ctx, "building-survey",
		fieldform.WithIdentity("surveyor-42"),
		fieldform.WithEntity("bld-001"))
	require.NoError(t, err)

	session.SetValue("ward", 7)
	session.SetValue("tole", "Naya Tole")
	require.False(t, session.GoNext().HasErrors())
	session.SetValue("remarks", "two storey house")

	rec, errs, err := engine.Submit(ctx, "building-survey")
	require.NoError(t, err)
	require.False(t, errs.HasErrors())

	assert.Equal(t, fieldform.StatusCompleted, rec.Status)
	assert.Equal(t, fieldform.SyncPending, rec.SyncStatus)
	assert.Equal(t, 1, rec.Version)
	assert.Equal(t, "bld-001", rec.EntityID)
	assert.Equal(t, "surveyor-42", rec.Response.SubmittedBy)

	// the session is closed once the record is stored
	_, active := engine.Session("building-survey")
	assert.False(t, active)

	pending, err := engine.Store().PendingResponses(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, rec.ID, pending[0].ID)
}

// TestSubmitValidationFailureKeepsSession tests that a rejected submit leaves
// the session alive for correction.
func TestSubmitValidationFailureKeepsSession(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.RegisterForm([]byte(surveySchema))
	require.NoError(t, err)

	session, err := engine.StartSession(ctx, "building-survey")
	require.NoError(t, err)
	session.SetValue("ward", 7)

	rec, errs, err := engine.Submit(ctx, "building-survey")
	require.NoError(t, err)
	assert.Nil(t, rec)
	require.True(t, errs.HasErrors())
	assert.Contains(t, errs, "tole")

	_, active := engine.Session("building-survey")
	assert.True(t, active)

	session.SetValue("tole", "Naya Tole")
	rec, errs, err = engine.Submit(ctx, "building-survey")
	require.NoError(t, err)
	require.False(t, errs.HasErrors())
	assert.NotNil(t, rec)
}

// TestSubmitWithoutSession tests the not-found path for submit.
func TestSubmitWithoutSession(t *testing.T) {
	engine := newTestEngine(t)

	_, _, err := engine.Submit(context.Background(), "building-survey")
	assert.True(t, fieldform.IsNotFoundError(err))
}

// TestEndSessionKeepsDraft tests that ending with keepDraft persists a draft
// record that pending sync never picks up.
func TestEndSessionKeepsDraft(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.RegisterForm([]byte(surveySchema))
	require.NoError(t, err)

	session, err := engine.StartSession(ctx, "building-survey",
		fieldform.WithEntity("bld-002"))
	require.NoError(t, err)
	session.SetValue("ward", 3)

	require.NoError(t, engine.EndSession(ctx, "building-survey", true))

	records, err := engine.Store().QueryResponses(ctx, fieldform.ResponseQuery{
		Status: fieldform.StatusDraft,
	})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "bld-002", records[0].EntityID)

	pending, err := engine.Store().PendingResponses(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	// ending an already ended session is a no-op
	assert.NoError(t, engine.EndSession(ctx, "building-survey", true))
}

// TestEndSessionDiscardsDraft tests that keepDraft=false drops the data.
func TestEndSessionDiscardsDraft(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.RegisterForm([]byte(surveySchema))
	require.NoError(t, err)

	session, err := engine.StartSession(ctx, "building-survey")
	require.NoError(t, err)
	session.SetValue("ward", 3)

	require.NoError(t, engine.EndSession(ctx, "building-survey", false))

	records, err := engine.Store().QueryResponses(ctx, fieldform.ResponseQuery{})
	require.NoError(t, err)
	assert.Empty(t, records)
}

// TestAutosaveFlushesThroughStore tests that a form with autosave enabled gets
// its dirty draft flushed into the store without an explicit save.
func TestAutosaveFlushesThroughStore(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	schema := []byte(`{
		"id": "quick-check",
		"version": "1.0.0",
		"title": "Quick Check",
		"type": "building",
		"settings": {"autoSave": true, "autoSaveInterval": 20},
		"steps": [
			{
				"id": "step-one",
				"title": "One",
				"sections": [
					{
						"id": "sec-one",
						"title": "One",
						"fields": [
							{"id": "note", "type": "text", "label": "Note"}
						]
					}
				]
			}
		]
	}`)
	_, err := engine.RegisterForm(schema)
	require.NoError(t, err)

	session, err := engine.StartSession(ctx, "quick-check",
		fieldform.WithEntity("bld-003"))
	require.NoError(t, err)
	session.SetValue("note", "autosaved")

	require.Eventually(t, func() bool {
		records, err := engine.Store().QueryResponses(ctx, fieldform.ResponseQuery{
			FormID: "quick-check",
		})
		return err == nil && len(records) == 1
	}, 2*time.Second, 10*time.Millisecond)

	records, err := engine.Store().QueryResponses(ctx, fieldform.ResponseQuery{
		FormID: "quick-check",
	})
	require.NoError(t, err)
	assert.Equal(t, fieldform.StatusDraft, records[0].Status)
	fields := records[0].Response.Steps[0].Sections[0].Fields
	require.Len(t, fields, 1)
	assert.Equal(t, "note", fields[0].FieldID)
	assert.Equal(t, "autosaved", fields[0].Value)
}

// TestUploadAssetsWithoutBucket tests that asset upload requires configuration.
func TestUploadAssetsWithoutBucket(t *testing.T) {
	engine := newTestEngine(t)

	_, err := engine.UploadAssets(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no asset bucket configured")
}
