package internal

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lychee-technology/fieldform"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := OpenStore(fieldform.StorageConfig{
		Path:         filepath.Join(t.TempDir(), "test.sqlite"),
		BusyTimeout:  5 * time.Second,
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

// markSynced walks a record through the states a real push pass uses.
func markSynced(t *testing.T, store *SQLiteStore, id string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.SetResponseSyncStatus(ctx, id, fieldform.SyncSyncing))
	require.NoError(t, store.SetResponseSyncStatus(ctx, id, fieldform.SyncSynced))
}

// TestSaveResponseCreatesPendingRecord tests that a fresh save starts at
// version 1 with pending sync status
func TestSaveResponseCreatesPendingRecord(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec, err := store.SaveResponse(ctx, sampleResponse())
	require.NoError(t, err)

	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, fieldform.SyncPending, rec.SyncStatus)
	assert.Equal(t, 1, rec.Version)
	assert.Equal(t, fieldform.StatusCompleted, rec.Status)

	got, err := store.Response(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.Response.Steps, got.Response.Steps)
}

// TestSaveResponseUpsertsByFormAndEntity tests that repeated saves reuse the
// same row and keep version 1 while unsynced
func TestSaveResponseUpsertsByFormAndEntity(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first, err := store.SaveResponse(ctx, sampleResponse())
	require.NoError(t, err)

	resp := sampleResponse()
	resp.Metadata = map[string]any{"appVersion": "2.5.0"}
	second, err := store.SaveResponse(ctx, resp)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, second.Version)

	all, err := store.QueryResponses(ctx, fieldform.ResponseQuery{})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

// TestSaveResponseBumpsVersionAfterSync tests that editing a record the
// remote already accepted produces a new revision
func TestSaveResponseBumpsVersionAfterSync(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec, err := store.SaveResponse(ctx, sampleResponse())
	require.NoError(t, err)
	markSynced(t, store, rec.ID)

	updated, err := store.SaveResponse(ctx, sampleResponse())
	require.NoError(t, err)

	assert.Equal(t, rec.ID, updated.ID)
	assert.Equal(t, 2, updated.Version)
	assert.Equal(t, fieldform.SyncPending, updated.SyncStatus)
}

// TestSetResponseSyncStatusUnknownRecord tests the not-found path
func TestSetResponseSyncStatusUnknownRecord(t *testing.T) {
	store := newTestStore(t)

	err := store.SetResponseSyncStatus(context.Background(), "missing", fieldform.SyncSynced)
	assert.True(t, fieldform.IsNotFoundError(err))
}

// TestTouchRevision tests the explicit version bump
func TestTouchRevision(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec, err := store.SaveResponse(ctx, sampleResponse())
	require.NoError(t, err)
	markSynced(t, store, rec.ID)

	require.NoError(t, store.TouchRevision(ctx, rec.ID))

	got, err := store.Response(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Version)
	assert.Equal(t, fieldform.SyncPending, got.SyncStatus)
}

// TestQueryResponsesFilters tests the query filters
func TestQueryResponsesFilters(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	completed := sampleResponse()
	_, err := store.SaveResponse(ctx, completed)
	require.NoError(t, err)

	draft := sampleResponse()
	draft.EntityID = "bld-777"
	draft.Status = fieldform.StatusDraft
	draft.CompletedAt = nil
	_, err = store.SaveResponse(ctx, draft)
	require.NoError(t, err)

	byStatus, err := store.QueryResponses(ctx, fieldform.ResponseQuery{Status: fieldform.StatusDraft})
	require.NoError(t, err)
	require.Len(t, byStatus, 1)
	assert.Equal(t, "bld-777", byStatus[0].EntityID)

	bySearch, err := store.QueryResponses(ctx, fieldform.ResponseQuery{Search: "777"})
	require.NoError(t, err)
	assert.Len(t, bySearch, 1)

	byEntity, err := store.QueryResponses(ctx, fieldform.ResponseQuery{
		EntityType: fieldform.EntityBuilding,
		EntityID:   "bld-001",
	})
	require.NoError(t, err)
	assert.Len(t, byEntity, 1)
}

// TestPendingResponsesExcludesDraftsAndSynced tests the push candidate query
func TestPendingResponsesExcludesDraftsAndSynced(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	completed := sampleResponse()
	rec, err := store.SaveResponse(ctx, completed)
	require.NoError(t, err)

	draft := sampleResponse()
	draft.EntityID = "bld-002"
	draft.Status = fieldform.StatusDraft
	draft.CompletedAt = nil
	_, err = store.SaveResponse(ctx, draft)
	require.NoError(t, err)

	synced := sampleResponse()
	synced.EntityID = "bld-003"
	syncedRec, err := store.SaveResponse(ctx, synced)
	require.NoError(t, err)
	markSynced(t, store, syncedRec.ID)

	pending, err := store.PendingResponses(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, rec.ID, pending[0].ID)
}

// TestPendingResponsesSkipsCorruptRows tests that one undecodable row never
// blocks the rest of the batch
func TestPendingResponsesSkipsCorruptRows(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	healthy, err := store.SaveResponse(ctx, sampleResponse())
	require.NoError(t, err)

	corruptResp := sampleResponse()
	corruptResp.EntityID = "bld-002"
	corrupt, err := store.SaveResponse(ctx, corruptResp)
	require.NoError(t, err)

	_, err = store.db.ExecContext(ctx,
		`UPDATE survey_responses SET responses = ? WHERE id = ?`, "not-json{", corrupt.ID)
	require.NoError(t, err)

	pending, err := store.PendingResponses(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, healthy.ID, pending[0].ID)

	// the corrupt row is parked in error, not retried forever as pending
	var status string
	require.NoError(t, store.db.QueryRowContext(ctx,
		`SELECT sync_status FROM survey_responses WHERE id = ?`, corrupt.ID).Scan(&status))
	assert.Equal(t, string(fieldform.SyncError), status)
}

// TestSetResponseSyncStatusGuardsSyncedFlip tests that a record edited back
// to pending mid-push is never stamped synced
func TestSetResponseSyncStatusGuardsSyncedFlip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec, err := store.SaveResponse(ctx, sampleResponse())
	require.NoError(t, err)
	require.NoError(t, store.SetResponseSyncStatus(ctx, rec.ID, fieldform.SyncSyncing))

	// a local edit lands while the push is in flight
	require.NoError(t, store.SetResponseSyncStatus(ctx, rec.ID, fieldform.SyncPending))

	require.NoError(t, store.SetResponseSyncStatus(ctx, rec.ID, fieldform.SyncSynced))
	got, err := store.Response(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, fieldform.SyncPending, got.SyncStatus)
}

// TestResetInterrupted tests that records stuck in syncing go back to pending
func TestResetInterrupted(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec, err := store.SaveResponse(ctx, sampleResponse())
	require.NoError(t, err)
	require.NoError(t, store.SetResponseSyncStatus(ctx, rec.ID, fieldform.SyncSyncing))

	n, err := store.ResetInterrupted(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := store.Response(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, fieldform.SyncPending, got.SyncStatus)

	n, err = store.ResetInterrupted(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

// TestSaveBuildingStampsBookkeeping tests id assignment and sync stamping
func TestSaveBuildingStampsBookkeeping(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	b := &fieldform.Building{
		Address:          fieldform.Address{Ward: 7, Tole: "Naya Bazar"},
		Location:         fieldform.GeoLocation{Latitude: 27.7, Longitude: 85.3},
		BuildingType:     "residential",
		ConstructionType: "rcc",
		TotalFloors:      2,
	}
	require.NoError(t, store.SaveBuilding(ctx, b))

	assert.NotEmpty(t, b.ID)
	assert.Equal(t, 1, b.Version)
	assert.Equal(t, fieldform.SyncPending, b.SyncStatus)

	got, err := store.Building(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "residential", got.BuildingType)
	assert.Equal(t, 7, got.Address.Ward)
}

// TestBuildingsSearch tests the substring lookup
func TestBuildingsSearch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, name := range []string{"Shrestha Niwas", "Maharjan House"} {
		b := &fieldform.Building{
			Name:             name,
			Address:          fieldform.Address{Ward: 7, Tole: "Naya Bazar"},
			Location:         fieldform.GeoLocation{Latitude: 27.7, Longitude: 85.3},
			BuildingType:     "residential",
			ConstructionType: "rcc",
			TotalFloors:      1,
		}
		require.NoError(t, store.SaveBuilding(ctx, b))
	}

	hits, err := store.Buildings(ctx, "Shrestha")
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "Shrestha Niwas", hits[0].Name)

	all, err := store.Buildings(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

// TestFamilyIndividualBusinessLookups tests the per-parent listings
func TestFamilyIndividualBusinessLookups(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	f := &fieldform.Family{
		BuildingID:     "bld-1",
		HeadID:         "ind-1",
		Name:           "Shrestha",
		EconomicStatus: "middle",
		ResidencyType:  "owned",
	}
	require.NoError(t, store.SaveFamily(ctx, f))

	i := &fieldform.Individual{
		FamilyID:      f.ID,
		Name:          fieldform.PersonName{First: "Sita", Last: "Shrestha"},
		DateOfBirth:   time.Date(1985, 4, 12, 0, 0, 0, 0, time.UTC),
		Gender:        "female",
		MaritalStatus: "married",
	}
	require.NoError(t, store.SaveIndividual(ctx, i))

	biz := &fieldform.Business{
		BuildingID: "bld-1",
		Name:       "Himalayan Tea House",
		Type:       "restaurant",
		Ownership:  "sole",
		OwnerID:    i.ID,
	}
	require.NoError(t, store.SaveBusiness(ctx, biz))

	families, err := store.Families(ctx, "bld-1")
	require.NoError(t, err)
	assert.Len(t, families, 1)

	members, err := store.Individuals(ctx, f.ID)
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, "Sita", members[0].Name.First)

	businesses, err := store.Businesses(ctx, "bld-1")
	require.NoError(t, err)
	assert.Len(t, businesses, 1)
}

// TestAssetLifecycle tests asset save, pending listing and status flips
func TestAssetLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a := &fieldform.AssetRecord{
		URI:        "/data/img-1.jpg",
		Kind:       "image",
		EntityType: fieldform.EntityBuilding,
		EntityID:   "bld-1",
	}
	require.NoError(t, store.SaveAsset(ctx, a))
	assert.NotEmpty(t, a.ID)

	pending, err := store.PendingAssets(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	require.NoError(t, store.SetAssetSyncStatus(ctx, a.ID, fieldform.SyncSynced))

	pending, err = store.PendingAssets(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

// TestApplyChangesAdvancesCheckpoint tests that pulled rows land and the
// checkpoint moves in the same transaction
func TestApplyChangesAdvancesCheckpoint(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	cp, err := store.Checkpoint(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), cp)

	ward := fieldform.Ward{
		Base:         fieldform.Base{ID: "ward-7", Version: 4},
		WardNumber:   7,
		WardAreaCode: 44600,
	}
	raw, err := json.Marshal(ward)
	require.NoError(t, err)

	changes := fieldform.ChangeSet{
		"wards": {Created: []json.RawMessage{raw}},
	}
	require.NoError(t, store.ApplyChanges(ctx, changes, 1750000000000))

	cp, err = store.Checkpoint(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1750000000000), cp)

	got, err := store.Ward(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, fieldform.SyncSynced, got.SyncStatus)
	assert.Equal(t, 4, got.Version)
}

// TestApplyChangesDeletes tests remote deletions
func TestApplyChangesDeletes(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	ward := fieldform.Ward{Base: fieldform.Base{ID: "ward-9"}, WardNumber: 9}
	raw, err := json.Marshal(ward)
	require.NoError(t, err)
	require.NoError(t, store.ApplyChanges(ctx,
		fieldform.ChangeSet{"wards": {Created: []json.RawMessage{raw}}}, 100))

	require.NoError(t, store.ApplyChanges(ctx,
		fieldform.ChangeSet{"wards": {Deleted: []string{"ward-9"}}}, 200))

	_, err = store.Ward(ctx, 9)
	assert.True(t, fieldform.IsNotFoundError(err))
}

// TestApplyChangesSkipsUnknownTable tests that an unexpected table does not
// fail the pull or block the checkpoint
func TestApplyChangesSkipsUnknownTable(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	changes := fieldform.ChangeSet{
		"mystery": {Created: []json.RawMessage{json.RawMessage(`{"id":"x"}`)}},
	}
	require.NoError(t, store.ApplyChanges(ctx, changes, 300))

	cp, err := store.Checkpoint(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(300), cp)
}
