package internal

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/lychee-technology/fieldform"
)

//go:embed migrations
var dbMigrations embed.FS

// SQLiteStore is the on-device database behind fieldform.LocalStore. A single
// writer connection keeps sqlite happy under concurrent autosave and sync
// traffic; every multi-row mutation runs in one transaction.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenStore opens (or creates) the sqlite database at cfg.Path and applies
// pending migrations.
func OpenStore(cfg fieldform.StorageConfig) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=%d&_journal_mode=WAL&_foreign_keys=on",
		cfg.Path, cfg.BusyTimeout.Milliseconds())

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fieldform.NewPersistenceError("open database", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := migrateStore(db); err != nil {
		db.Close()
		return nil, err
	}

	zap.S().Infow("local store opened", "path", cfg.Path)
	return &SQLiteStore{db: db, now: time.Now}, nil
}

func migrateStore(db *sql.DB) error {
	src, err := iofs.New(dbMigrations, "migrations")
	if err != nil {
		return fieldform.NewPersistenceError("load migrations", err)
	}
	dst, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fieldform.NewPersistenceError("prepare migration driver", err)
	}
	migrator, err := migrate.NewWithInstance("iofs", src, "sqlite3", dst)
	if err != nil {
		return fieldform.NewPersistenceError("build migrator", err)
	}
	if err := migrator.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fieldform.NewPersistenceError("apply migrations", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fieldform.NewTransactionError("begin transaction", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			zap.S().Warnw("transaction rollback failed", "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fieldform.NewTransactionError("commit transaction", err)
	}
	return nil
}

// --- Survey responses ---

const surveyColumns = `id, form_id, form_version, entity_type, entity_id, responses,
	location, images, audio, files, metadata, completed_by, verified_by, status,
	started_at, completed_at, last_modified_at, sync_status, version, created_at, updated_at`

// SaveResponse upserts a response keyed by (form_id, entity_id). A fresh row
// starts at version 1 with sync status "pending". Updating a row that the
// remote already accepted bumps the version, so the server can tell a new
// revision from a retry of the old one.
func (s *SQLiteStore) SaveResponse(ctx context.Context, resp *fieldform.FormResponse) (*fieldform.SurveyRecord, error) {
	var saved *fieldform.SurveyRecord
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		now := timeToMs(s.now())

		var existingID string
		var existingSync string
		var existingVersion int
		var createdAt int64
		err := tx.QueryRowContext(ctx,
			`SELECT id, sync_status, version, created_at FROM survey_responses
			 WHERE form_id = ? AND entity_id = ?
			 ORDER BY created_at DESC LIMIT 1`,
			resp.FormID, resp.EntityID,
		).Scan(&existingID, &existingSync, &existingVersion, &createdAt)

		switch {
		case errors.Is(err, sql.ErrNoRows):
			row, encErr := encodeSurveyRow(uuid.Must(uuid.NewV7()).String(), resp)
			if encErr != nil {
				return fieldform.NewPersistenceError("encode response", encErr)
			}
			row.SyncStatus = string(fieldform.SyncPending)
			row.Version = 1
			row.CreatedAt = now
			row.UpdatedAt = now
			if insErr := insertSurveyRow(ctx, tx, row); insErr != nil {
				return insErr
			}
			saved, encErr = row.record()
			if encErr != nil {
				return fieldform.NewPersistenceError("decode saved response", encErr)
			}
			return nil
		case err != nil:
			return fieldform.NewPersistenceError("look up response", err)
		}

		row, encErr := encodeSurveyRow(existingID, resp)
		if encErr != nil {
			return fieldform.NewPersistenceError("encode response", encErr)
		}
		row.SyncStatus = string(fieldform.SyncPending)
		row.Version = existingVersion
		if existingSync == string(fieldform.SyncSynced) {
			row.Version = existingVersion + 1
		}
		row.CreatedAt = createdAt
		row.UpdatedAt = now
		if updErr := updateSurveyRow(ctx, tx, row); updErr != nil {
			return updErr
		}
		saved, encErr = row.record()
		if encErr != nil {
			return fieldform.NewPersistenceError("decode saved response", encErr)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return saved, nil
}

func insertSurveyRow(ctx context.Context, tx *sql.Tx, r *surveyRow) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO survey_responses (`+surveyColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.FormID, r.FormVersion, r.EntityType, r.EntityID, r.Responses,
		r.Location, r.Images, r.Audio, r.Files, r.Metadata, r.CompletedBy,
		r.VerifiedBy, r.Status, r.StartedAt, r.CompletedAt, r.LastModifiedAt,
		r.SyncStatus, r.Version, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return fieldform.NewPersistenceError("insert response", err).WithRecord(r.ID)
	}
	return nil
}

func updateSurveyRow(ctx context.Context, tx *sql.Tx, r *surveyRow) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE survey_responses SET
			form_version = ?, entity_type = ?, responses = ?, location = ?,
			images = ?, audio = ?, files = ?, metadata = ?, completed_by = ?,
			verified_by = ?, status = ?, started_at = ?, completed_at = ?,
			last_modified_at = ?, sync_status = ?, version = ?, updated_at = ?
		 WHERE id = ?`,
		r.FormVersion, r.EntityType, r.Responses, r.Location,
		r.Images, r.Audio, r.Files, r.Metadata, r.CompletedBy,
		r.VerifiedBy, r.Status, r.StartedAt, r.CompletedAt,
		r.LastModifiedAt, r.SyncStatus, r.Version, r.UpdatedAt,
		r.ID)
	if err != nil {
		return fieldform.NewPersistenceError("update response", err).WithRecord(r.ID)
	}
	return nil
}

// Response returns one record by id.
func (s *SQLiteStore) Response(ctx context.Context, id string) (*fieldform.SurveyRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+surveyColumns+` FROM survey_responses WHERE id = ?`, id)
	rec, err := scanSurveyRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fieldform.NewNotFoundError("survey_responses", id)
	}
	if err != nil {
		return nil, fieldform.NewPersistenceError("read response", err).WithRecord(id)
	}
	return rec, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *surveyRow) scan(sc rowScanner) error {
	return sc.Scan(&r.ID, &r.FormID, &r.FormVersion, &r.EntityType, &r.EntityID,
		&r.Responses, &r.Location, &r.Images, &r.Audio, &r.Files, &r.Metadata,
		&r.CompletedBy, &r.VerifiedBy, &r.Status, &r.StartedAt, &r.CompletedAt,
		&r.LastModifiedAt, &r.SyncStatus, &r.Version, &r.CreatedAt, &r.UpdatedAt)
}

func scanSurveyRow(sc rowScanner) (*fieldform.SurveyRecord, error) {
	var r surveyRow
	if err := r.scan(sc); err != nil {
		return nil, err
	}
	return r.record()
}

// QueryResponses lists records matching the filter, newest first.
func (s *SQLiteStore) QueryResponses(ctx context.Context, q fieldform.ResponseQuery) ([]*fieldform.SurveyRecord, error) {
	var conds []string
	var args []any
	if q.FormID != "" {
		conds = append(conds, "form_id = ?")
		args = append(args, q.FormID)
	}
	if q.EntityType != "" {
		conds = append(conds, "entity_type = ?")
		args = append(args, string(q.EntityType))
	}
	if q.EntityID != "" {
		conds = append(conds, "entity_id = ?")
		args = append(args, q.EntityID)
	}
	if q.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(q.Status))
	}
	if q.SyncStatus != "" {
		conds = append(conds, "sync_status = ?")
		args = append(args, string(q.SyncStatus))
	}
	if q.Search != "" {
		conds = append(conds, "(form_id LIKE ? OR entity_id LIKE ?)")
		pattern := "%" + q.Search + "%"
		args = append(args, pattern, pattern)
	}

	query := `SELECT ` + surveyColumns + ` FROM survey_responses`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY updated_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fieldform.NewPersistenceError("query responses", err)
	}
	defer rows.Close()

	var out []*fieldform.SurveyRecord
	for rows.Next() {
		rec, scanErr := scanSurveyRow(rows)
		if scanErr != nil {
			return nil, fieldform.NewPersistenceError("scan response", scanErr)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fieldform.NewPersistenceError("iterate responses", err)
	}
	return out, nil
}

// PendingResponses lists completed records awaiting upload, oldest first so
// the push pass preserves capture order.
func (s *SQLiteStore) PendingResponses(ctx context.Context) ([]*fieldform.SurveyRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+surveyColumns+` FROM survey_responses
		 WHERE sync_status IN (?, ?) AND status != ?
		 ORDER BY updated_at ASC`,
		string(fieldform.SyncPending), string(fieldform.SyncError),
		string(fieldform.StatusDraft))
	if err != nil {
		return nil, fieldform.NewPersistenceError("query pending responses", err)
	}
	defer rows.Close()

	var out []*fieldform.SurveyRecord
	var broken []string
	for rows.Next() {
		var r surveyRow
		if scanErr := r.scan(rows); scanErr != nil {
			return nil, fieldform.NewPersistenceError("scan response", scanErr)
		}
		rec, decErr := r.record()
		if decErr != nil {
			// a corrupt row must not hold the rest of the batch hostage
			zap.S().Warnw("skipping undecodable pending response",
				"record", r.ID, "error", decErr)
			broken = append(broken, r.ID)
			continue
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fieldform.NewPersistenceError("iterate responses", err)
	}

	for _, id := range broken {
		if err := s.SetResponseSyncStatus(ctx, id, fieldform.SyncError); err != nil {
			zap.S().Errorw("failed to mark corrupt record as errored",
				"record", id, "error", err)
		}
	}
	return out, nil
}

// SetResponseSyncStatus flips the sync status of one record without touching
// its version. The flip to "synced" only lands on a record still in
// "syncing": a concurrent local edit that reset the record to "pending" must
// not be stamped synced before its new content was uploaded.
func (s *SQLiteStore) SetResponseSyncStatus(ctx context.Context, id string, status fieldform.SyncStatus) error {
	query := `UPDATE survey_responses SET sync_status = ?, updated_at = ? WHERE id = ?`
	args := []any{string(status), timeToMs(s.now()), id}
	if status == fieldform.SyncSynced {
		query += ` AND sync_status = ?`
		args = append(args, string(fieldform.SyncSyncing))
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fieldform.NewPersistenceError("update sync status", err).WithRecord(id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if status == fieldform.SyncSynced {
			var current string
			lookupErr := s.db.QueryRowContext(ctx,
				`SELECT sync_status FROM survey_responses WHERE id = ?`, id).Scan(&current)
			if lookupErr == nil {
				zap.S().Infow("record changed during push, keeping local status",
					"record", id, "status", current)
				return nil
			}
		}
		return fieldform.NewNotFoundError("survey_responses", id)
	}
	return nil
}

// TouchRevision bumps the record version and marks it pending again.
func (s *SQLiteStore) TouchRevision(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE survey_responses SET version = version + 1, sync_status = ?, updated_at = ?
		 WHERE id = ?`,
		string(fieldform.SyncPending), timeToMs(s.now()), id)
	if err != nil {
		return fieldform.NewPersistenceError("bump revision", err).WithRecord(id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fieldform.NewNotFoundError("survey_responses", id)
	}
	return nil
}

// ResetInterrupted returns records stuck in "syncing" to "pending". A record
// in that state means a previous process died mid-push; the next pass must
// pick it up again.
func (s *SQLiteStore) ResetInterrupted(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE survey_responses SET sync_status = ? WHERE sync_status = ?`,
		string(fieldform.SyncPending), string(fieldform.SyncSyncing))
	if err != nil {
		return 0, fieldform.NewPersistenceError("reset interrupted records", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		zap.S().Infow("reset interrupted sync records", "count", n)
	}
	return int(n), nil
}

// --- Reference entities ---

// Wards lists all wards ordered by ward number.
func (s *SQLiteStore) Wards(ctx context.Context) ([]*fieldform.Ward, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, ward_number, ward_area_code, geometry, sync_status, version, created_at, updated_at
		 FROM wards ORDER BY ward_number ASC`)
	if err != nil {
		return nil, fieldform.NewPersistenceError("query wards", err)
	}
	defer rows.Close()

	var out []*fieldform.Ward
	for rows.Next() {
		var r wardRow
		if err := rows.Scan(&r.ID, &r.WardNumber, &r.WardAreaCode, &r.Geometry,
			&r.SyncStatus, &r.Version, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fieldform.NewPersistenceError("scan ward", err)
		}
		out = append(out, r.ward())
	}
	return out, rows.Err()
}

// Ward returns one ward by its ward number.
func (s *SQLiteStore) Ward(ctx context.Context, wardNumber int) (*fieldform.Ward, error) {
	var r wardRow
	err := s.db.QueryRowContext(ctx,
		`SELECT id, ward_number, ward_area_code, geometry, sync_status, version, created_at, updated_at
		 FROM wards WHERE ward_number = ?`, wardNumber).
		Scan(&r.ID, &r.WardNumber, &r.WardAreaCode, &r.Geometry,
			&r.SyncStatus, &r.Version, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fieldform.NewNotFoundError("wards", fmt.Sprintf("%d", wardNumber))
	}
	if err != nil {
		return nil, fieldform.NewPersistenceError("read ward", err)
	}
	return r.ward(), nil
}

func upsertWard(ctx context.Context, tx *sql.Tx, r *wardRow) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO wards (id, ward_number, ward_area_code, geometry, sync_status, version, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
			ward_number = excluded.ward_number,
			ward_area_code = excluded.ward_area_code,
			geometry = excluded.geometry,
			sync_status = excluded.sync_status,
			version = excluded.version,
			updated_at = excluded.updated_at`,
		r.ID, r.WardNumber, r.WardAreaCode, r.Geometry, r.SyncStatus,
		r.Version, r.CreatedAt, r.UpdatedAt)
	return err
}

const buildingColumns = `id, name, ward, tole, street_name, house_number, landmark,
	latitude, longitude, accuracy, building_type, construction_type, total_floors,
	construction_year, land_area, built_area, images, family_ids, business_ids,
	metadata, sync_status, version, created_at, updated_at`

func scanBuildingRow(sc rowScanner) (*fieldform.Building, error) {
	var r buildingRow
	err := sc.Scan(&r.ID, &r.Name, &r.Ward, &r.Tole, &r.StreetName, &r.HouseNumber,
		&r.Landmark, &r.Latitude, &r.Longitude, &r.Accuracy, &r.BuildingType,
		&r.ConstructionType, &r.TotalFloors, &r.ConstructionYear, &r.LandArea,
		&r.BuiltArea, &r.Images, &r.FamilyIDs, &r.BusinessIDs, &r.Metadata,
		&r.SyncStatus, &r.Version, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return r.building()
}

// Buildings lists buildings, optionally filtered by a substring match on
// name, tole and street name.
func (s *SQLiteStore) Buildings(ctx context.Context, search string) ([]*fieldform.Building, error) {
	query := `SELECT ` + buildingColumns + ` FROM buildings`
	var args []any
	if search != "" {
		query += ` WHERE name LIKE ? OR tole LIKE ? OR street_name LIKE ?`
		pattern := "%" + search + "%"
		args = append(args, pattern, pattern, pattern)
	}
	query += ` ORDER BY updated_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fieldform.NewPersistenceError("query buildings", err)
	}
	defer rows.Close()

	var out []*fieldform.Building
	for rows.Next() {
		b, scanErr := scanBuildingRow(rows)
		if scanErr != nil {
			return nil, fieldform.NewPersistenceError("scan building", scanErr)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// Building returns one building by id.
func (s *SQLiteStore) Building(ctx context.Context, id string) (*fieldform.Building, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+buildingColumns+` FROM buildings WHERE id = ?`, id)
	b, err := scanBuildingRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fieldform.NewNotFoundError("buildings", id)
	}
	if err != nil {
		return nil, fieldform.NewPersistenceError("read building", err).WithRecord(id)
	}
	return b, nil
}

// SaveBuilding upserts a building. Locally created rows get a fresh id and
// pending sync status; rows carrying an id keep their bookkeeping.
func (s *SQLiteStore) SaveBuilding(ctx context.Context, b *fieldform.Building) error {
	s.stampEntity(&b.Base)
	row, err := encodeBuildingRow(b)
	if err != nil {
		return fieldform.NewPersistenceError("encode building", err)
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := upsertBuilding(ctx, tx, row); err != nil {
			return fieldform.NewPersistenceError("save building", err).WithRecord(b.ID)
		}
		return nil
	})
}

func upsertBuilding(ctx context.Context, tx *sql.Tx, r *buildingRow) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO buildings (`+buildingColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
			name = excluded.name, ward = excluded.ward, tole = excluded.tole,
			street_name = excluded.street_name, house_number = excluded.house_number,
			landmark = excluded.landmark, latitude = excluded.latitude,
			longitude = excluded.longitude, accuracy = excluded.accuracy,
			building_type = excluded.building_type,
			construction_type = excluded.construction_type,
			total_floors = excluded.total_floors,
			construction_year = excluded.construction_year,
			land_area = excluded.land_area, built_area = excluded.built_area,
			images = excluded.images, family_ids = excluded.family_ids,
			business_ids = excluded.business_ids, metadata = excluded.metadata,
			sync_status = excluded.sync_status, version = excluded.version,
			updated_at = excluded.updated_at`,
		r.ID, r.Name, r.Ward, r.Tole, r.StreetName, r.HouseNumber, r.Landmark,
		r.Latitude, r.Longitude, r.Accuracy, r.BuildingType, r.ConstructionType,
		r.TotalFloors, r.ConstructionYear, r.LandArea, r.BuiltArea, r.Images,
		r.FamilyIDs, r.BusinessIDs, r.Metadata, r.SyncStatus, r.Version,
		r.CreatedAt, r.UpdatedAt)
	return err
}

const familyColumns = `id, building_id, head_id, name, member_ids, economic_status,
	monthly_income, residency_type, residency_since, metadata, sync_status, version,
	created_at, updated_at`

// Families lists the families of one building.
func (s *SQLiteStore) Families(ctx context.Context, buildingID string) ([]*fieldform.Family, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+familyColumns+` FROM families WHERE building_id = ? ORDER BY name ASC`,
		buildingID)
	if err != nil {
		return nil, fieldform.NewPersistenceError("query families", err)
	}
	defer rows.Close()

	var out []*fieldform.Family
	for rows.Next() {
		var r familyRow
		if err := rows.Scan(&r.ID, &r.BuildingID, &r.HeadID, &r.Name, &r.MemberIDs,
			&r.EconomicStatus, &r.MonthlyIncome, &r.ResidencyType, &r.ResidencySince,
			&r.Metadata, &r.SyncStatus, &r.Version, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fieldform.NewPersistenceError("scan family", err)
		}
		f, decErr := r.family()
		if decErr != nil {
			return nil, fieldform.NewPersistenceError("decode family", decErr)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// SaveFamily upserts a family.
func (s *SQLiteStore) SaveFamily(ctx context.Context, f *fieldform.Family) error {
	s.stampEntity(&f.Base)
	row, err := encodeFamilyRow(f)
	if err != nil {
		return fieldform.NewPersistenceError("encode family", err)
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := upsertFamily(ctx, tx, row); err != nil {
			return fieldform.NewPersistenceError("save family", err).WithRecord(f.ID)
		}
		return nil
	})
}

func upsertFamily(ctx context.Context, tx *sql.Tx, r *familyRow) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO families (`+familyColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
			building_id = excluded.building_id, head_id = excluded.head_id,
			name = excluded.name, member_ids = excluded.member_ids,
			economic_status = excluded.economic_status,
			monthly_income = excluded.monthly_income,
			residency_type = excluded.residency_type,
			residency_since = excluded.residency_since,
			metadata = excluded.metadata, sync_status = excluded.sync_status,
			version = excluded.version, updated_at = excluded.updated_at`,
		r.ID, r.BuildingID, r.HeadID, r.Name, r.MemberIDs, r.EconomicStatus,
		r.MonthlyIncome, r.ResidencyType, r.ResidencySince, r.Metadata,
		r.SyncStatus, r.Version, r.CreatedAt, r.UpdatedAt)
	return err
}

const individualColumns = `id, family_id, first_name, middle_name, last_name,
	date_of_birth, gender, marital_status, education, occupation, contact,
	health_info, metadata, sync_status, version, created_at, updated_at`

// Individuals lists the members of one family.
func (s *SQLiteStore) Individuals(ctx context.Context, familyID string) ([]*fieldform.Individual, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+individualColumns+` FROM individuals WHERE family_id = ?
		 ORDER BY date_of_birth ASC`, familyID)
	if err != nil {
		return nil, fieldform.NewPersistenceError("query individuals", err)
	}
	defer rows.Close()

	var out []*fieldform.Individual
	for rows.Next() {
		var r individualRow
		if err := rows.Scan(&r.ID, &r.FamilyID, &r.FirstName, &r.MiddleName,
			&r.LastName, &r.DateOfBirth, &r.Gender, &r.MaritalStatus, &r.Education,
			&r.Occupation, &r.Contact, &r.HealthInfo, &r.Metadata, &r.SyncStatus,
			&r.Version, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fieldform.NewPersistenceError("scan individual", err)
		}
		i, decErr := r.individual()
		if decErr != nil {
			return nil, fieldform.NewPersistenceError("decode individual", decErr)
		}
		out = append(out, i)
	}
	return out, rows.Err()
}

// SaveIndividual upserts an individual.
func (s *SQLiteStore) SaveIndividual(ctx context.Context, i *fieldform.Individual) error {
	s.stampEntity(&i.Base)
	row, err := encodeIndividualRow(i)
	if err != nil {
		return fieldform.NewPersistenceError("encode individual", err)
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := upsertIndividual(ctx, tx, row); err != nil {
			return fieldform.NewPersistenceError("save individual", err).WithRecord(i.ID)
		}
		return nil
	})
}

func upsertIndividual(ctx context.Context, tx *sql.Tx, r *individualRow) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO individuals (`+individualColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
			family_id = excluded.family_id, first_name = excluded.first_name,
			middle_name = excluded.middle_name, last_name = excluded.last_name,
			date_of_birth = excluded.date_of_birth, gender = excluded.gender,
			marital_status = excluded.marital_status, education = excluded.education,
			occupation = excluded.occupation, contact = excluded.contact,
			health_info = excluded.health_info, metadata = excluded.metadata,
			sync_status = excluded.sync_status, version = excluded.version,
			updated_at = excluded.updated_at`,
		r.ID, r.FamilyID, r.FirstName, r.MiddleName, r.LastName, r.DateOfBirth,
		r.Gender, r.MaritalStatus, r.Education, r.Occupation, r.Contact,
		r.HealthInfo, r.Metadata, r.SyncStatus, r.Version, r.CreatedAt, r.UpdatedAt)
	return err
}

const businessColumns = `id, building_id, name, type, registration_no, ownership,
	established_date, owner_id, contact, premises, turnover, metadata, sync_status,
	version, created_at, updated_at`

// Businesses lists the businesses of one building.
func (s *SQLiteStore) Businesses(ctx context.Context, buildingID string) ([]*fieldform.Business, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+businessColumns+` FROM businesses WHERE building_id = ? ORDER BY name ASC`,
		buildingID)
	if err != nil {
		return nil, fieldform.NewPersistenceError("query businesses", err)
	}
	defer rows.Close()

	var out []*fieldform.Business
	for rows.Next() {
		var r businessRow
		if err := rows.Scan(&r.ID, &r.BuildingID, &r.Name, &r.Type,
			&r.RegistrationNo, &r.Ownership, &r.EstablishedDate, &r.OwnerID,
			&r.Contact, &r.Premises, &r.Turnover, &r.Metadata, &r.SyncStatus,
			&r.Version, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fieldform.NewPersistenceError("scan business", err)
		}
		b, decErr := r.business()
		if decErr != nil {
			return nil, fieldform.NewPersistenceError("decode business", decErr)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// SaveBusiness upserts a business.
func (s *SQLiteStore) SaveBusiness(ctx context.Context, b *fieldform.Business) error {
	s.stampEntity(&b.Base)
	row, err := encodeBusinessRow(b)
	if err != nil {
		return fieldform.NewPersistenceError("encode business", err)
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := upsertBusiness(ctx, tx, row); err != nil {
			return fieldform.NewPersistenceError("save business", err).WithRecord(b.ID)
		}
		return nil
	})
}

func upsertBusiness(ctx context.Context, tx *sql.Tx, r *businessRow) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO businesses (`+businessColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
			building_id = excluded.building_id, name = excluded.name,
			type = excluded.type, registration_no = excluded.registration_no,
			ownership = excluded.ownership,
			established_date = excluded.established_date,
			owner_id = excluded.owner_id, contact = excluded.contact,
			premises = excluded.premises, turnover = excluded.turnover,
			metadata = excluded.metadata, sync_status = excluded.sync_status,
			version = excluded.version, updated_at = excluded.updated_at`,
		r.ID, r.BuildingID, r.Name, r.Type, r.RegistrationNo, r.Ownership,
		r.EstablishedDate, r.OwnerID, r.Contact, r.Premises, r.Turnover,
		r.Metadata, r.SyncStatus, r.Version, r.CreatedAt, r.UpdatedAt)
	return err
}

// stampEntity fills in the bookkeeping of a locally written entity. A fresh
// entity gets an id, version 1 and pending sync status; an existing one is
// marked pending again and its timestamps refreshed.
func (s *SQLiteStore) stampEntity(b *fieldform.Base) {
	now := s.now().UTC()
	if b.ID == "" {
		b.ID = uuid.Must(uuid.NewV7()).String()
		b.Version = 1
		b.CreatedAt = now
	}
	if b.Version == 0 {
		b.Version = 1
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.SyncStatus = fieldform.SyncPending
	b.UpdatedAt = now
}

// --- Media assets ---

// SaveAsset upserts an asset record.
func (s *SQLiteStore) SaveAsset(ctx context.Context, a *fieldform.AssetRecord) error {
	now := s.now().UTC()
	if a.ID == "" {
		a.ID = uuid.Must(uuid.NewV7()).String()
		a.CreatedAt = now
	}
	if a.SyncStatus == "" {
		a.SyncStatus = fieldform.SyncPending
	}
	a.UpdatedAt = now

	row, err := encodeAssetRow(a)
	if err != nil {
		return fieldform.NewPersistenceError("encode asset", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO assets (id, uri, kind, entity_type, entity_id, metadata, sync_status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
			uri = excluded.uri, kind = excluded.kind,
			entity_type = excluded.entity_type, entity_id = excluded.entity_id,
			metadata = excluded.metadata, sync_status = excluded.sync_status,
			updated_at = excluded.updated_at`,
		row.ID, row.URI, row.Kind, row.EntityType, row.EntityID, row.Metadata,
		row.SyncStatus, row.CreatedAt, row.UpdatedAt)
	if err != nil {
		return fieldform.NewPersistenceError("save asset", err).WithRecord(a.ID)
	}
	return nil
}

// PendingAssets lists assets awaiting upload, oldest first.
func (s *SQLiteStore) PendingAssets(ctx context.Context) ([]*fieldform.AssetRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, uri, kind, entity_type, entity_id, metadata, sync_status, created_at, updated_at
		 FROM assets WHERE sync_status IN (?, ?) ORDER BY created_at ASC`,
		string(fieldform.SyncPending), string(fieldform.SyncError))
	if err != nil {
		return nil, fieldform.NewPersistenceError("query pending assets", err)
	}
	defer rows.Close()

	var out []*fieldform.AssetRecord
	for rows.Next() {
		var r assetRow
		if err := rows.Scan(&r.ID, &r.URI, &r.Kind, &r.EntityType, &r.EntityID,
			&r.Metadata, &r.SyncStatus, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fieldform.NewPersistenceError("scan asset", err)
		}
		a, decErr := r.asset()
		if decErr != nil {
			return nil, fieldform.NewPersistenceError("decode asset", decErr)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// SetAssetSyncStatus flips the sync status of one asset.
func (s *SQLiteStore) SetAssetSyncStatus(ctx context.Context, id string, status fieldform.SyncStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE assets SET sync_status = ?, updated_at = ? WHERE id = ?`,
		string(status), timeToMs(s.now()), id)
	if err != nil {
		return fieldform.NewPersistenceError("update asset sync status", err).WithRecord(id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fieldform.NewNotFoundError("assets", id)
	}
	return nil
}

// --- Pull checkpoint ---

// Checkpoint returns the timestamp of the last fully applied pull, 0 when no
// pull has happened yet.
func (s *SQLiteStore) Checkpoint(ctx context.Context) (int64, error) {
	var ts int64
	err := s.db.QueryRowContext(ctx,
		`SELECT last_pulled_at FROM sync_state WHERE id = 1`).Scan(&ts)
	if err != nil {
		return 0, fieldform.NewPersistenceError("read checkpoint", err)
	}
	return ts, nil
}

// ApplyChanges applies a pull result and advances the checkpoint in one
// transaction. Rows arriving from the remote are stored as "synced". An
// unknown table in the change set is logged and skipped rather than failing
// the whole pull.
func (s *SQLiteStore) ApplyChanges(ctx context.Context, changes fieldform.ChangeSet, timestamp int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for table, tc := range changes {
			rows := make([]json.RawMessage, 0, len(tc.Created)+len(tc.Updated))
			rows = append(rows, tc.Created...)
			rows = append(rows, tc.Updated...)

			switch table {
			case "wards":
				for _, raw := range rows {
					var w fieldform.Ward
					if err := json.Unmarshal(raw, &w); err != nil {
						return fieldform.NewPersistenceError("decode pulled ward", err)
					}
					s.stampPulled(&w.Base)
					if err := upsertWard(ctx, tx, encodeWardRow(&w)); err != nil {
						return fieldform.NewPersistenceError("apply ward", err).WithRecord(w.ID)
					}
				}
			case "buildings":
				for _, raw := range rows {
					var b fieldform.Building
					if err := json.Unmarshal(raw, &b); err != nil {
						return fieldform.NewPersistenceError("decode pulled building", err)
					}
					s.stampPulled(&b.Base)
					row, encErr := encodeBuildingRow(&b)
					if encErr != nil {
						return fieldform.NewPersistenceError("encode pulled building", encErr)
					}
					if err := upsertBuilding(ctx, tx, row); err != nil {
						return fieldform.NewPersistenceError("apply building", err).WithRecord(b.ID)
					}
				}
			case "families":
				for _, raw := range rows {
					var f fieldform.Family
					if err := json.Unmarshal(raw, &f); err != nil {
						return fieldform.NewPersistenceError("decode pulled family", err)
					}
					s.stampPulled(&f.Base)
					row, encErr := encodeFamilyRow(&f)
					if encErr != nil {
						return fieldform.NewPersistenceError("encode pulled family", encErr)
					}
					if err := upsertFamily(ctx, tx, row); err != nil {
						return fieldform.NewPersistenceError("apply family", err).WithRecord(f.ID)
					}
				}
			case "individuals":
				for _, raw := range rows {
					var i fieldform.Individual
					if err := json.Unmarshal(raw, &i); err != nil {
						return fieldform.NewPersistenceError("decode pulled individual", err)
					}
					s.stampPulled(&i.Base)
					row, encErr := encodeIndividualRow(&i)
					if encErr != nil {
						return fieldform.NewPersistenceError("encode pulled individual", encErr)
					}
					if err := upsertIndividual(ctx, tx, row); err != nil {
						return fieldform.NewPersistenceError("apply individual", err).WithRecord(i.ID)
					}
				}
			case "businesses":
				for _, raw := range rows {
					var b fieldform.Business
					if err := json.Unmarshal(raw, &b); err != nil {
						return fieldform.NewPersistenceError("decode pulled business", err)
					}
					s.stampPulled(&b.Base)
					row, encErr := encodeBusinessRow(&b)
					if encErr != nil {
						return fieldform.NewPersistenceError("encode pulled business", encErr)
					}
					if err := upsertBusiness(ctx, tx, row); err != nil {
						return fieldform.NewPersistenceError("apply business", err).WithRecord(b.ID)
					}
				}
			default:
				zap.S().Warnw("pull contained unknown table, skipping", "table", table)
				continue
			}

			if len(tc.Deleted) > 0 {
				if err := deleteRows(ctx, tx, table, tc.Deleted); err != nil {
					return fieldform.NewPersistenceError("apply deletions", err)
				}
			}
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE sync_state SET last_pulled_at = ? WHERE id = 1`, timestamp); err != nil {
			return fieldform.NewPersistenceError("advance checkpoint", err)
		}
		return nil
	})
}

// stampPulled normalizes bookkeeping on rows arriving from the remote.
func (s *SQLiteStore) stampPulled(b *fieldform.Base) {
	b.SyncStatus = fieldform.SyncSynced
	if b.Version == 0 {
		b.Version = 1
	}
	now := s.now().UTC()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	if b.UpdatedAt.IsZero() {
		b.UpdatedAt = now
	}
}

var pullTables = map[string]bool{
	"wards":       true,
	"buildings":   true,
	"families":    true,
	"individuals": true,
	"businesses":  true,
}

func deleteRows(ctx context.Context, tx *sql.Tx, table string, ids []string) error {
	if !pullTables[table] {
		return fmt.Errorf("unknown table %q", table)
	}
	placeholders := strings.Repeat("?, ", len(ids))
	placeholders = strings.TrimSuffix(placeholders, ", ")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	_, err := tx.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE id IN (%s)", table, placeholders), args...)
	return err
}
