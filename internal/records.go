package internal

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lychee-technology/fieldform"
)

// Row types mirror the sqlite tables one to one. Complex values live in
// serialized JSON text columns; every entity has an explicit encode/decode
// pair instead of reflection-driven column mapping.

type surveyRow struct {
	ID             string
	FormID         string
	FormVersion    string
	EntityType     string
	EntityID       string
	Responses      string
	Location       sql.NullString
	Images         sql.NullString
	Audio          sql.NullString
	Files          sql.NullString
	Metadata       sql.NullString
	CompletedBy    string
	VerifiedBy     sql.NullString
	Status         string
	StartedAt      int64
	CompletedAt    sql.NullInt64
	LastModifiedAt int64
	SyncStatus     string
	Version        int
	CreatedAt      int64
	UpdatedAt      int64
}

func encodeSurveyRow(id string, resp *fieldform.FormResponse) (*surveyRow, error) {
	if resp == nil {
		return nil, fmt.Errorf("form response cannot be nil")
	}

	responses, err := json.Marshal(resp.Steps)
	if err != nil {
		return nil, fmt.Errorf("serialize step responses: %w", err)
	}

	row := &surveyRow{
		ID:             id,
		FormID:         resp.FormID,
		FormVersion:    resp.Version,
		EntityType:     string(resp.EntityType),
		EntityID:       resp.EntityID,
		Responses:      string(responses),
		CompletedBy:    resp.SubmittedBy,
		Status:         string(resp.Status),
		StartedAt:      timeToMs(resp.StartedAt),
		LastModifiedAt: timeToMs(resp.LastModifiedAt),
	}

	if resp.VerifiedBy != "" {
		row.VerifiedBy = sql.NullString{String: resp.VerifiedBy, Valid: true}
	}
	if resp.CompletedAt != nil {
		row.CompletedAt = sql.NullInt64{Int64: timeToMs(*resp.CompletedAt), Valid: true}
	}
	if row.Location, err = encodeJSONColumn(resp.Location); err != nil {
		return nil, fmt.Errorf("serialize location: %w", err)
	}
	if resp.Media != nil {
		if row.Images, err = encodeJSONColumn(resp.Media.Images); err != nil {
			return nil, fmt.Errorf("serialize images: %w", err)
		}
		if row.Audio, err = encodeJSONColumn(resp.Media.Audio); err != nil {
			return nil, fmt.Errorf("serialize audio: %w", err)
		}
		if row.Files, err = encodeJSONColumn(resp.Media.Files); err != nil {
			return nil, fmt.Errorf("serialize files: %w", err)
		}
	}
	if row.Metadata, err = encodeJSONColumn(resp.Metadata); err != nil {
		return nil, fmt.Errorf("serialize metadata: %w", err)
	}

	return row, nil
}

func (r *surveyRow) record() (*fieldform.SurveyRecord, error) {
	resp := &fieldform.FormResponse{
		FormID:         r.FormID,
		Version:        r.FormVersion,
		EntityType:     fieldform.EntityType(r.EntityType),
		EntityID:       r.EntityID,
		Status:         fieldform.ResponseStatus(r.Status),
		StartedAt:      msToTime(r.StartedAt),
		LastModifiedAt: msToTime(r.LastModifiedAt),
		SubmittedBy:    r.CompletedBy,
		VerifiedBy:     r.VerifiedBy.String,
	}

	if err := json.Unmarshal([]byte(r.Responses), &resp.Steps); err != nil {
		return nil, fmt.Errorf("deserialize step responses: %w", err)
	}
	if r.CompletedAt.Valid {
		t := msToTime(r.CompletedAt.Int64)
		resp.CompletedAt = &t
	}
	if r.Location.Valid {
		var loc fieldform.GeoLocation
		if err := json.Unmarshal([]byte(r.Location.String), &loc); err != nil {
			return nil, fmt.Errorf("deserialize location: %w", err)
		}
		resp.Location = &loc
	}
	media := &fieldform.MediaBundle{}
	hasMedia := false
	if r.Images.Valid {
		if err := json.Unmarshal([]byte(r.Images.String), &media.Images); err != nil {
			return nil, fmt.Errorf("deserialize images: %w", err)
		}
		hasMedia = true
	}
	if r.Audio.Valid {
		if err := json.Unmarshal([]byte(r.Audio.String), &media.Audio); err != nil {
			return nil, fmt.Errorf("deserialize audio: %w", err)
		}
		hasMedia = true
	}
	if r.Files.Valid {
		if err := json.Unmarshal([]byte(r.Files.String), &media.Files); err != nil {
			return nil, fmt.Errorf("deserialize files: %w", err)
		}
		hasMedia = true
	}
	if hasMedia {
		resp.Media = media
	}
	if r.Metadata.Valid {
		if err := json.Unmarshal([]byte(r.Metadata.String), &resp.Metadata); err != nil {
			return nil, fmt.Errorf("deserialize metadata: %w", err)
		}
	}

	return &fieldform.SurveyRecord{
		ID:         r.ID,
		FormID:     r.FormID,
		EntityType: fieldform.EntityType(r.EntityType),
		EntityID:   r.EntityID,
		Response:   resp,
		Status:     fieldform.ResponseStatus(r.Status),
		SyncStatus: fieldform.SyncStatus(r.SyncStatus),
		Version:    r.Version,
		CreatedAt:  msToTime(r.CreatedAt),
		UpdatedAt:  msToTime(r.UpdatedAt),
	}, nil
}

type wardRow struct {
	ID           string
	WardNumber   int
	WardAreaCode int
	Geometry     sql.NullString
	SyncStatus   string
	Version      int
	CreatedAt    int64
	UpdatedAt    int64
}

func encodeWardRow(w *fieldform.Ward) *wardRow {
	row := &wardRow{
		ID:           w.ID,
		WardNumber:   w.WardNumber,
		WardAreaCode: w.WardAreaCode,
		SyncStatus:   string(w.SyncStatus),
		Version:      w.Version,
		CreatedAt:    timeToMs(w.CreatedAt),
		UpdatedAt:    timeToMs(w.UpdatedAt),
	}
	if len(w.Geometry) > 0 {
		row.Geometry = sql.NullString{String: string(w.Geometry), Valid: true}
	}
	return row
}

func (r *wardRow) ward() *fieldform.Ward {
	w := &fieldform.Ward{
		Base: fieldform.Base{
			ID:         r.ID,
			SyncStatus: fieldform.SyncStatus(r.SyncStatus),
			Version:    r.Version,
			CreatedAt:  msToTime(r.CreatedAt),
			UpdatedAt:  msToTime(r.UpdatedAt),
		},
		WardNumber:   r.WardNumber,
		WardAreaCode: r.WardAreaCode,
	}
	if r.Geometry.Valid {
		w.Geometry = json.RawMessage(r.Geometry.String)
	}
	return w
}

type buildingRow struct {
	ID               string
	Name             sql.NullString
	Ward             int
	Tole             string
	StreetName       sql.NullString
	HouseNumber      sql.NullString
	Landmark         sql.NullString
	Latitude         float64
	Longitude        float64
	Accuracy         sql.NullFloat64
	BuildingType     string
	ConstructionType string
	TotalFloors      int
	ConstructionYear sql.NullInt64
	LandArea         sql.NullFloat64
	BuiltArea        sql.NullFloat64
	Images           sql.NullString
	FamilyIDs        sql.NullString
	BusinessIDs      sql.NullString
	Metadata         sql.NullString
	SyncStatus       string
	Version          int
	CreatedAt        int64
	UpdatedAt        int64
}

func encodeBuildingRow(b *fieldform.Building) (*buildingRow, error) {
	row := &buildingRow{
		ID:               b.ID,
		Ward:             b.Address.Ward,
		Tole:             b.Address.Tole,
		Latitude:         b.Location.Latitude,
		Longitude:        b.Location.Longitude,
		BuildingType:     b.BuildingType,
		ConstructionType: b.ConstructionType,
		TotalFloors:      b.TotalFloors,
		SyncStatus:       string(b.SyncStatus),
		Version:          b.Version,
		CreatedAt:        timeToMs(b.CreatedAt),
		UpdatedAt:        timeToMs(b.UpdatedAt),
	}
	row.Name = nullString(b.Name)
	row.StreetName = nullString(b.Address.StreetName)
	row.HouseNumber = nullString(b.Address.HouseNumber)
	row.Landmark = nullString(b.Address.Landmark)
	if b.Location.Accuracy != nil {
		row.Accuracy = sql.NullFloat64{Float64: *b.Location.Accuracy, Valid: true}
	}
	if b.ConstructionYear != 0 {
		row.ConstructionYear = sql.NullInt64{Int64: int64(b.ConstructionYear), Valid: true}
	}
	if b.LandArea != 0 {
		row.LandArea = sql.NullFloat64{Float64: b.LandArea, Valid: true}
	}
	if b.BuiltArea != 0 {
		row.BuiltArea = sql.NullFloat64{Float64: b.BuiltArea, Valid: true}
	}
	var err error
	if row.Images, err = encodeJSONColumn(b.Images); err != nil {
		return nil, fmt.Errorf("serialize images: %w", err)
	}
	if row.FamilyIDs, err = encodeJSONColumn(b.FamilyIDs); err != nil {
		return nil, fmt.Errorf("serialize family ids: %w", err)
	}
	if row.BusinessIDs, err = encodeJSONColumn(b.BusinessIDs); err != nil {
		return nil, fmt.Errorf("serialize business ids: %w", err)
	}
	if row.Metadata, err = encodeJSONColumn(b.Metadata); err != nil {
		return nil, fmt.Errorf("serialize metadata: %w", err)
	}
	return row, nil
}

func (r *buildingRow) building() (*fieldform.Building, error) {
	b := &fieldform.Building{
		Base: fieldform.Base{
			ID:         r.ID,
			SyncStatus: fieldform.SyncStatus(r.SyncStatus),
			Version:    r.Version,
			CreatedAt:  msToTime(r.CreatedAt),
			UpdatedAt:  msToTime(r.UpdatedAt),
		},
		Name: r.Name.String,
		Address: fieldform.Address{
			Ward:        r.Ward,
			Tole:        r.Tole,
			StreetName:  r.StreetName.String,
			HouseNumber: r.HouseNumber.String,
			Landmark:    r.Landmark.String,
		},
		Location: fieldform.GeoLocation{
			Latitude:  r.Latitude,
			Longitude: r.Longitude,
		},
		BuildingType:     r.BuildingType,
		ConstructionType: r.ConstructionType,
		TotalFloors:      r.TotalFloors,
		ConstructionYear: int(r.ConstructionYear.Int64),
		LandArea:         r.LandArea.Float64,
		BuiltArea:        r.BuiltArea.Float64,
	}
	if r.Accuracy.Valid {
		acc := r.Accuracy.Float64
		b.Location.Accuracy = &acc
	}
	if err := decodeJSONColumn(r.Images, &b.Images); err != nil {
		return nil, fmt.Errorf("deserialize images: %w", err)
	}
	if err := decodeJSONColumn(r.FamilyIDs, &b.FamilyIDs); err != nil {
		return nil, fmt.Errorf("deserialize family ids: %w", err)
	}
	if err := decodeJSONColumn(r.BusinessIDs, &b.BusinessIDs); err != nil {
		return nil, fmt.Errorf("deserialize business ids: %w", err)
	}
	if err := decodeJSONColumn(r.Metadata, &b.Metadata); err != nil {
		return nil, fmt.Errorf("deserialize metadata: %w", err)
	}
	return b, nil
}

type familyRow struct {
	ID             string
	BuildingID     string
	HeadID         string
	Name           string
	MemberIDs      sql.NullString
	EconomicStatus string
	MonthlyIncome  sql.NullFloat64
	ResidencyType  string
	ResidencySince sql.NullInt64
	Metadata       sql.NullString
	SyncStatus     string
	Version        int
	CreatedAt      int64
	UpdatedAt      int64
}

func encodeFamilyRow(f *fieldform.Family) (*familyRow, error) {
	row := &familyRow{
		ID:             f.ID,
		BuildingID:     f.BuildingID,
		HeadID:         f.HeadID,
		Name:           f.Name,
		EconomicStatus: f.EconomicStatus,
		ResidencyType:  f.ResidencyType,
		SyncStatus:     string(f.SyncStatus),
		Version:        f.Version,
		CreatedAt:      timeToMs(f.CreatedAt),
		UpdatedAt:      timeToMs(f.UpdatedAt),
	}
	if f.MonthlyIncome != 0 {
		row.MonthlyIncome = sql.NullFloat64{Float64: f.MonthlyIncome, Valid: true}
	}
	if f.ResidencySince != nil {
		row.ResidencySince = sql.NullInt64{Int64: timeToMs(*f.ResidencySince), Valid: true}
	}
	var err error
	if row.MemberIDs, err = encodeJSONColumn(f.MemberIDs); err != nil {
		return nil, fmt.Errorf("serialize member ids: %w", err)
	}
	if row.Metadata, err = encodeJSONColumn(f.Metadata); err != nil {
		return nil, fmt.Errorf("serialize metadata: %w", err)
	}
	return row, nil
}

func (r *familyRow) family() (*fieldform.Family, error) {
	f := &fieldform.Family{
		Base: fieldform.Base{
			ID:         r.ID,
			SyncStatus: fieldform.SyncStatus(r.SyncStatus),
			Version:    r.Version,
			CreatedAt:  msToTime(r.CreatedAt),
			UpdatedAt:  msToTime(r.UpdatedAt),
		},
		BuildingID:     r.BuildingID,
		HeadID:         r.HeadID,
		Name:           r.Name,
		EconomicStatus: r.EconomicStatus,
		MonthlyIncome:  r.MonthlyIncome.Float64,
		ResidencyType:  r.ResidencyType,
	}
	if r.ResidencySince.Valid {
		t := msToTime(r.ResidencySince.Int64)
		f.ResidencySince = &t
	}
	if err := decodeJSONColumn(r.MemberIDs, &f.MemberIDs); err != nil {
		return nil, fmt.Errorf("deserialize member ids: %w", err)
	}
	if err := decodeJSONColumn(r.Metadata, &f.Metadata); err != nil {
		return nil, fmt.Errorf("deserialize metadata: %w", err)
	}
	return f, nil
}

type individualRow struct {
	ID            string
	FamilyID      string
	FirstName     string
	MiddleName    sql.NullString
	LastName      string
	DateOfBirth   int64
	Gender        string
	MaritalStatus string
	Education     sql.NullString
	Occupation    sql.NullString
	Contact       sql.NullString
	HealthInfo    sql.NullString
	Metadata      sql.NullString
	SyncStatus    string
	Version       int
	CreatedAt     int64
	UpdatedAt     int64
}

func encodeIndividualRow(i *fieldform.Individual) (*individualRow, error) {
	row := &individualRow{
		ID:            i.ID,
		FamilyID:      i.FamilyID,
		FirstName:     i.Name.First,
		MiddleName:    nullString(i.Name.Middle),
		LastName:      i.Name.Last,
		DateOfBirth:   timeToMs(i.DateOfBirth),
		Gender:        i.Gender,
		MaritalStatus: i.MaritalStatus,
		SyncStatus:    string(i.SyncStatus),
		Version:       i.Version,
		CreatedAt:     timeToMs(i.CreatedAt),
		UpdatedAt:     timeToMs(i.UpdatedAt),
	}
	var err error
	if row.Education, err = encodeJSONColumn(i.Education); err != nil {
		return nil, fmt.Errorf("serialize education: %w", err)
	}
	if row.Occupation, err = encodeJSONColumn(i.Occupation); err != nil {
		return nil, fmt.Errorf("serialize occupation: %w", err)
	}
	if row.Contact, err = encodeJSONColumn(i.Contact); err != nil {
		return nil, fmt.Errorf("serialize contact: %w", err)
	}
	if row.HealthInfo, err = encodeJSONColumn(i.HealthInfo); err != nil {
		return nil, fmt.Errorf("serialize health info: %w", err)
	}
	if row.Metadata, err = encodeJSONColumn(i.Metadata); err != nil {
		return nil, fmt.Errorf("serialize metadata: %w", err)
	}
	return row, nil
}

func (r *individualRow) individual() (*fieldform.Individual, error) {
	i := &fieldform.Individual{
		Base: fieldform.Base{
			ID:         r.ID,
			SyncStatus: fieldform.SyncStatus(r.SyncStatus),
			Version:    r.Version,
			CreatedAt:  msToTime(r.CreatedAt),
			UpdatedAt:  msToTime(r.UpdatedAt),
		},
		FamilyID: r.FamilyID,
		Name: fieldform.PersonName{
			First:  r.FirstName,
			Middle: r.MiddleName.String,
			Last:   r.LastName,
		},
		DateOfBirth:   msToTime(r.DateOfBirth),
		Gender:        r.Gender,
		MaritalStatus: r.MaritalStatus,
	}
	if err := decodeJSONColumn(r.Education, &i.Education); err != nil {
		return nil, fmt.Errorf("deserialize education: %w", err)
	}
	if err := decodeJSONColumn(r.Occupation, &i.Occupation); err != nil {
		return nil, fmt.Errorf("deserialize occupation: %w", err)
	}
	if err := decodeJSONColumn(r.Contact, &i.Contact); err != nil {
		return nil, fmt.Errorf("deserialize contact: %w", err)
	}
	if err := decodeJSONColumn(r.HealthInfo, &i.HealthInfo); err != nil {
		return nil, fmt.Errorf("deserialize health info: %w", err)
	}
	if err := decodeJSONColumn(r.Metadata, &i.Metadata); err != nil {
		return nil, fmt.Errorf("deserialize metadata: %w", err)
	}
	return i, nil
}

type businessRow struct {
	ID              string
	BuildingID      string
	Name            string
	Type            string
	RegistrationNo  sql.NullString
	Ownership       string
	EstablishedDate sql.NullInt64
	OwnerID         string
	Contact         sql.NullString
	Premises        sql.NullString
	Turnover        sql.NullString
	Metadata        sql.NullString
	SyncStatus      string
	Version         int
	CreatedAt       int64
	UpdatedAt       int64
}

func encodeBusinessRow(b *fieldform.Business) (*businessRow, error) {
	row := &businessRow{
		ID:             b.ID,
		BuildingID:     b.BuildingID,
		Name:           b.Name,
		Type:           b.Type,
		RegistrationNo: nullString(b.RegistrationNo),
		Ownership:      b.Ownership,
		OwnerID:        b.OwnerID,
		SyncStatus:     string(b.SyncStatus),
		Version:        b.Version,
		CreatedAt:      timeToMs(b.CreatedAt),
		UpdatedAt:      timeToMs(b.UpdatedAt),
	}
	if b.EstablishedDate != nil {
		row.EstablishedDate = sql.NullInt64{Int64: timeToMs(*b.EstablishedDate), Valid: true}
	}
	var err error
	if row.Contact, err = encodeJSONColumn(b.Contact); err != nil {
		return nil, fmt.Errorf("serialize contact: %w", err)
	}
	if row.Premises, err = encodeJSONColumn(b.Premises); err != nil {
		return nil, fmt.Errorf("serialize premises: %w", err)
	}
	if row.Turnover, err = encodeJSONColumn(b.Turnover); err != nil {
		return nil, fmt.Errorf("serialize turnover: %w", err)
	}
	if row.Metadata, err = encodeJSONColumn(b.Metadata); err != nil {
		return nil, fmt.Errorf("serialize metadata: %w", err)
	}
	return row, nil
}

func (r *businessRow) business() (*fieldform.Business, error) {
	b := &fieldform.Business{
		Base: fieldform.Base{
			ID:         r.ID,
			SyncStatus: fieldform.SyncStatus(r.SyncStatus),
			Version:    r.Version,
			CreatedAt:  msToTime(r.CreatedAt),
			UpdatedAt:  msToTime(r.UpdatedAt),
		},
		BuildingID:     r.BuildingID,
		Name:           r.Name,
		Type:           r.Type,
		RegistrationNo: r.RegistrationNo.String,
		Ownership:      r.Ownership,
		OwnerID:        r.OwnerID,
	}
	if r.EstablishedDate.Valid {
		t := msToTime(r.EstablishedDate.Int64)
		b.EstablishedDate = &t
	}
	if err := decodeJSONColumn(r.Contact, &b.Contact); err != nil {
		return nil, fmt.Errorf("deserialize contact: %w", err)
	}
	if err := decodeJSONColumn(r.Premises, &b.Premises); err != nil {
		return nil, fmt.Errorf("deserialize premises: %w", err)
	}
	if err := decodeJSONColumn(r.Turnover, &b.Turnover); err != nil {
		return nil, fmt.Errorf("deserialize turnover: %w", err)
	}
	if err := decodeJSONColumn(r.Metadata, &b.Metadata); err != nil {
		return nil, fmt.Errorf("deserialize metadata: %w", err)
	}
	return b, nil
}

type assetRow struct {
	ID         string
	URI        string
	Kind       string
	EntityType string
	EntityID   string
	Metadata   sql.NullString
	SyncStatus string
	CreatedAt  int64
	UpdatedAt  int64
}

func encodeAssetRow(a *fieldform.AssetRecord) (*assetRow, error) {
	row := &assetRow{
		ID:         a.ID,
		URI:        a.URI,
		Kind:       a.Kind,
		EntityType: string(a.EntityType),
		EntityID:   a.EntityID,
		SyncStatus: string(a.SyncStatus),
		CreatedAt:  timeToMs(a.CreatedAt),
		UpdatedAt:  timeToMs(a.UpdatedAt),
	}
	var err error
	if row.Metadata, err = encodeJSONColumn(a.Metadata); err != nil {
		return nil, fmt.Errorf("serialize metadata: %w", err)
	}
	return row, nil
}

func (r *assetRow) asset() (*fieldform.AssetRecord, error) {
	a := &fieldform.AssetRecord{
		ID:         r.ID,
		URI:        r.URI,
		Kind:       r.Kind,
		EntityType: fieldform.EntityType(r.EntityType),
		EntityID:   r.EntityID,
		SyncStatus: fieldform.SyncStatus(r.SyncStatus),
		CreatedAt:  msToTime(r.CreatedAt),
		UpdatedAt:  msToTime(r.UpdatedAt),
	}
	if err := decodeJSONColumn(r.Metadata, &a.Metadata); err != nil {
		return nil, fmt.Errorf("deserialize metadata: %w", err)
	}
	return a, nil
}

// --- column helpers ---

func encodeJSONColumn(v any) (sql.NullString, error) {
	if isNilColumn(v) {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func decodeJSONColumn(col sql.NullString, target any) error {
	if !col.Valid {
		return nil
	}
	return json.Unmarshal([]byte(col.String), target)
}

func isNilColumn(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case map[string]any:
		return val == nil
	case []string:
		return val == nil
	case []fieldform.ImageAsset:
		return val == nil
	case []fieldform.AudioAsset:
		return val == nil
	case *fieldform.GeoLocation:
		return val == nil
	}
	return false
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func timeToMs(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func msToTime(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
