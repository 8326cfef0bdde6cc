package fieldform

import (
	"context"
)

// ResponseQuery filters survey response lookups. Zero-valued fields match
// everything; Search applies substring matching on form id and entity id.
type ResponseQuery struct {
	FormID     string
	EntityType EntityType
	EntityID   string
	Status     ResponseStatus
	SyncStatus SyncStatus
	Search     string
}

// LocalStore is the durable local database shared by the form runtime, the
// autosaver and the sync manager. Every mutating method runs inside a scoped
// write transaction: either all row mutations of one logical write become
// visible together, or none do.
type LocalStore interface {
	// Survey responses
	SaveResponse(ctx context.Context, resp *FormResponse) (*SurveyRecord, error)
	Response(ctx context.Context, id string) (*SurveyRecord, error)
	QueryResponses(ctx context.Context, q ResponseQuery) ([]*SurveyRecord, error)
	PendingResponses(ctx context.Context) ([]*SurveyRecord, error)
	SetResponseSyncStatus(ctx context.Context, id string, status SyncStatus) error
	// TouchRevision bumps the optimistic-concurrency version of a record;
	// used when a new semantically-submitted revision replaces an already
	// synced one. Plain status flips never change the version.
	TouchRevision(ctx context.Context, id string) error
	// ResetInterrupted flips records left in "syncing" by a previous process
	// back to "pending". Called once at startup, before the first sync pass.
	ResetInterrupted(ctx context.Context) (int, error)

	// Reference entities pulled from the remote system
	Wards(ctx context.Context) ([]*Ward, error)
	Ward(ctx context.Context, wardNumber int) (*Ward, error)
	Buildings(ctx context.Context, search string) ([]*Building, error)
	Building(ctx context.Context, id string) (*Building, error)
	SaveBuilding(ctx context.Context, b *Building) error
	Families(ctx context.Context, buildingID string) ([]*Family, error)
	SaveFamily(ctx context.Context, f *Family) error
	Individuals(ctx context.Context, familyID string) ([]*Individual, error)
	SaveIndividual(ctx context.Context, i *Individual) error
	Businesses(ctx context.Context, buildingID string) ([]*Business, error)
	SaveBusiness(ctx context.Context, b *Business) error

	// Media assets
	SaveAsset(ctx context.Context, a *AssetRecord) error
	PendingAssets(ctx context.Context) ([]*AssetRecord, error)
	SetAssetSyncStatus(ctx context.Context, id string, status SyncStatus) error

	// Pull checkpoint. ApplyChanges applies a pull result to the reference
	// tables and advances the checkpoint inside the same transaction, so the
	// checkpoint never moves past changes that were not durably applied.
	Checkpoint(ctx context.Context) (int64, error)
	ApplyChanges(ctx context.Context, changes ChangeSet, timestamp int64) error

	Close() error
}

// SyncClient is the remote side of the reconciliation protocol. The sync
// manager depends only on this contract, not on transport details.
type SyncClient interface {
	// PushRecord uploads one local record. A non-nil error marks the record
	// "error" locally and never aborts the rest of the batch.
	PushRecord(ctx context.Context, rec *SurveyRecord) error
	// Pull fetches everything that changed server-side after the checkpoint.
	Pull(ctx context.Context, req PullRequest) (*PullResponse, error)
}
