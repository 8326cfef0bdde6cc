package fieldform

import (
	"encoding/json"
	"time"
)

// FieldKind is the discriminator for the field variant. Every consumer that
// switches on it must handle all kinds; unknown kinds coming from a config
// document are rejected at parse time.
type FieldKind string

const (
	FieldText         FieldKind = "text"
	FieldTextarea     FieldKind = "textarea"
	FieldEmail        FieldKind = "email"
	FieldPhone        FieldKind = "phone"
	FieldNumber       FieldKind = "number"
	FieldDate         FieldKind = "date"
	FieldTime         FieldKind = "time"
	FieldSelect       FieldKind = "select"
	FieldMultiSelect  FieldKind = "multiselect"
	FieldCheckbox     FieldKind = "checkbox"
	FieldRadio        FieldKind = "radio"
	FieldGeo          FieldKind = "geo"
	FieldImage        FieldKind = "image"
	FieldAudio        FieldKind = "audio"
	FieldFile         FieldKind = "file"
	FieldRelationship FieldKind = "relationship"
)

// KnownFieldKinds lists every kind the engine understands.
func KnownFieldKinds() []FieldKind {
	return []FieldKind{
		FieldText, FieldTextarea, FieldEmail, FieldPhone, FieldNumber,
		FieldDate, FieldTime, FieldSelect, FieldMultiSelect, FieldCheckbox,
		FieldRadio, FieldGeo, FieldImage, FieldAudio, FieldFile,
		FieldRelationship,
	}
}

// EntityType identifies which domain entity a form or record describes.
type EntityType string

const (
	EntityBuilding   EntityType = "building"
	EntityFamily     EntityType = "family"
	EntityIndividual EntityType = "individual"
	EntityBusiness   EntityType = "business"
)

// ResponseStatus is the lifecycle state of a survey response.
type ResponseStatus string

const (
	StatusDraft     ResponseStatus = "draft"
	StatusCompleted ResponseStatus = "completed"
	StatusVerified  ResponseStatus = "verified"
	StatusRejected  ResponseStatus = "rejected"
)

// SyncStatus describes how a local record relates to the remote system.
// "syncing" is transient and must never survive a process restart; the store
// resets it to "pending" on open.
type SyncStatus string

const (
	SyncPending SyncStatus = "pending"
	SyncSyncing SyncStatus = "syncing"
	SyncSynced  SyncStatus = "synced"
	SyncError   SyncStatus = "error"
)

// DependencyOperator is the comparison applied by a FieldDependency.
type DependencyOperator string

const (
	OpEquals      DependencyOperator = "equals"
	OpNotEquals   DependencyOperator = "notEquals"
	OpContains    DependencyOperator = "contains"
	OpGreaterThan DependencyOperator = "greaterThan"
	OpLessThan    DependencyOperator = "lessThan"
)

// FieldDependency makes a field, section or step visible only when another
// field's value satisfies the condition. Field paths may be dotted to reach
// nested values (e.g. "address.ward").
type FieldDependency struct {
	Field    string             `json:"field"`
	Operator DependencyOperator `json:"operator"`
	Value    any                `json:"value"`
}

// DependencyGroup is an AND-group of dependencies. A list of groups is
// evaluated with OR between groups.
type DependencyGroup struct {
	Dependencies []FieldDependency `json:"dependencies"`
}

// RuleType identifies a validation rule.
type RuleType string

const (
	RuleRequired  RuleType = "required"
	RuleMin       RuleType = "min"
	RuleMax       RuleType = "max"
	RuleMinLength RuleType = "minLength"
	RuleMaxLength RuleType = "maxLength"
	RulePattern   RuleType = "pattern"
	RuleEmail     RuleType = "email"
	RuleURL       RuleType = "url"
	RulePhone     RuleType = "phone"
)

// ValidationRule is a declarative constraint on a field value. Message, when
// set, overrides the generated message.
type ValidationRule struct {
	Type    RuleType `json:"type"`
	Value   any      `json:"value,omitempty"`
	Message string   `json:"message,omitempty"`
}

// SelectOption is one choice of a select/multiselect/radio field.
type SelectOption struct {
	Label    string         `json:"label"`
	Value    any            `json:"value"`
	Disabled bool           `json:"disabled,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// TextConstraints apply to text, textarea, email and phone fields.
type TextConstraints struct {
	MinLength *int   `json:"minLength,omitempty"`
	MaxLength *int   `json:"maxLength,omitempty"`
	Pattern   string `json:"pattern,omitempty"`
}

// NumberConstraints apply to number fields.
type NumberConstraints struct {
	Min  *float64 `json:"min,omitempty"`
	Max  *float64 `json:"max,omitempty"`
	Step *float64 `json:"step,omitempty"`
	Unit string   `json:"unit,omitempty"`
}

// SelectConstraints apply to select, multiselect and radio fields.
type SelectConstraints struct {
	Options    []SelectOption `json:"options"`
	MaxSelect  int            `json:"maxSelect,omitempty"`
	Searchable bool           `json:"searchable,omitempty"`
}

// GeoConstraints apply to geo fields.
type GeoConstraints struct {
	RequireAccuracy *float64 `json:"requireAccuracy,omitempty"`
}

// MediaConstraints apply to image, audio and file fields.
type MediaConstraints struct {
	MaxSize       int64    `json:"maxSize,omitempty"` // bytes
	AcceptedTypes []string `json:"acceptedTypes,omitempty"`
	MaxFiles      int      `json:"maxFiles,omitempty"`
}

// RelationConstraints apply to relationship fields.
type RelationConstraints struct {
	Target       EntityType `json:"relationTo"`
	Multiple     bool       `json:"multiple,omitempty"`
	SearchFields []string   `json:"searchFields,omitempty"`
	DisplayField string     `json:"displayField,omitempty"`
}

// Field is a tagged union over field kinds: Kind selects which constraint
// block (if any) applies. Constraint blocks for other kinds are ignored.
type Field struct {
	ID           string            `json:"id"`
	Kind         FieldKind         `json:"type"`
	Label        string            `json:"label"`
	Description  string            `json:"description,omitempty"`
	Placeholder  string            `json:"placeholder,omitempty"`
	DefaultValue any               `json:"defaultValue,omitempty"`
	Required     bool              `json:"required,omitempty"`
	Disabled     bool              `json:"disabled,omitempty"`
	Hidden       bool              `json:"hidden,omitempty"`
	Validation   []ValidationRule  `json:"validation,omitempty"`
	Dependencies []FieldDependency `json:"dependencies,omitempty"`
	// DependencyGroups, when present, take precedence over Dependencies and
	// are evaluated with OR between groups.
	DependencyGroups []DependencyGroup `json:"dependencyGroups,omitempty"`
	Metadata         map[string]any    `json:"metadata,omitempty"`

	Text     *TextConstraints     `json:"text,omitempty"`
	Number   *NumberConstraints   `json:"number,omitempty"`
	Select   *SelectConstraints   `json:"select,omitempty"`
	Geo      *GeoConstraints      `json:"geo,omitempty"`
	Media    *MediaConstraints    `json:"media,omitempty"`
	Relation *RelationConstraints `json:"relation,omitempty"`
}

// Section groups fields inside a step.
type Section struct {
	ID           string            `json:"id"`
	Title        string            `json:"title"`
	Description  string            `json:"description,omitempty"`
	Fields       []Field           `json:"fields"`
	Dependencies []FieldDependency `json:"dependencies,omitempty"`
	Metadata     map[string]any    `json:"metadata,omitempty"`
}

// Step is one page of a multi-step form.
type Step struct {
	ID             string            `json:"id"`
	Title          string            `json:"title"`
	Description    string            `json:"description,omitempty"`
	Sections       []Section         `json:"sections"`
	Dependencies   []FieldDependency `json:"dependencies,omitempty"`
	ValidationMode string            `json:"validationMode,omitempty"`
	Metadata       map[string]any    `json:"metadata,omitempty"`
}

// FormSettings are the global behavioural switches of a form.
type FormSettings struct {
	SaveAsDraft        bool          `json:"saveAsDraft,omitempty"`
	RequireLocation    bool          `json:"requireLocation,omitempty"`
	OfflineSupport     bool          `json:"offlineSupport,omitempty"`
	AutoSave           bool          `json:"autoSave,omitempty"`
	AutoSaveInterval   time.Duration `json:"autoSaveInterval,omitempty"` // decoded from milliseconds
	ValidationStrategy string        `json:"validationStrategy,omitempty"`
}

// FormConfig is the immutable declarative schema of a form. It is produced
// by config delivery and never mutated at runtime.
type FormConfig struct {
	ID          string         `json:"id"`
	Version     string         `json:"version"`
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	EntityType  EntityType     `json:"type"`
	Steps       []Step         `json:"steps"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Settings    FormSettings   `json:"settings"`
}

// GeoLocation is a captured device position.
type GeoLocation struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Accuracy  *float64  `json:"accuracy,omitempty"`
	Altitude  *float64  `json:"altitude,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ImageAsset is a captured photo pending upload.
type ImageAsset struct {
	ID         string     `json:"id"`
	URI        string     `json:"uri"`
	Kind       string     `json:"type"` // building, person, document
	Width      int        `json:"width,omitempty"`
	Height     int        `json:"height,omitempty"`
	Size       int64      `json:"size,omitempty"`
	SyncStatus SyncStatus `json:"syncStatus"`
}

// AudioAsset is a captured recording pending upload.
type AudioAsset struct {
	ID         string     `json:"id"`
	URI        string     `json:"uri"`
	Duration   float64    `json:"duration"` // seconds
	Transcript string     `json:"transcript,omitempty"`
	SyncStatus SyncStatus `json:"syncStatus"`
}

// MediaBundle holds the media captured alongside a response.
type MediaBundle struct {
	Images []ImageAsset `json:"images,omitempty"`
	Audio  []AudioAsset `json:"audio,omitempty"`
	Files  []string     `json:"files,omitempty"`
}

// FieldResponse is the answer to a single field.
type FieldResponse struct {
	FieldID string         `json:"fieldId"`
	Value   any            `json:"value"`
	Meta    map[string]any `json:"meta,omitempty"`
}

// SectionResponse holds the answers of one section.
type SectionResponse struct {
	SectionID string          `json:"sectionId"`
	Fields    []FieldResponse `json:"fields"`
}

// StepResponse holds the answers of one step.
type StepResponse struct {
	StepID   string            `json:"stepId"`
	Sections []SectionResponse `json:"sections"`
}

// FormResponse is the mutable aggregate a surveyor fills in. Status moves
// draft -> completed on submit; verified/rejected are set by an external
// review process but must round-trip through the store.
type FormResponse struct {
	FormID         string         `json:"formId"`
	Version        string         `json:"version"`
	EntityType     EntityType     `json:"entityType"`
	EntityID       string         `json:"entityId"`
	Steps          []StepResponse `json:"steps"`
	Status         ResponseStatus `json:"status"`
	Location       *GeoLocation   `json:"location,omitempty"`
	StartedAt      time.Time      `json:"startedAt"`
	CompletedAt    *time.Time     `json:"completedAt,omitempty"`
	LastModifiedAt time.Time      `json:"lastModifiedAt"`
	SubmittedBy    string         `json:"submittedBy"`
	VerifiedBy     string         `json:"verifiedBy,omitempty"`
	Media          *MediaBundle   `json:"media,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// SurveyRecord is a persisted survey response together with its sync
// bookkeeping. The row itself stores the response as serialized JSON; the
// store decodes it on read.
type SurveyRecord struct {
	ID         string
	FormID     string
	EntityType EntityType
	EntityID   string
	Response   *FormResponse
	Status     ResponseStatus
	SyncStatus SyncStatus
	Version    int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// AssetRecord is a persisted media asset awaiting upload.
type AssetRecord struct {
	ID         string
	URI        string
	Kind       string // image, audio, file
	EntityType EntityType
	EntityID   string
	Metadata   map[string]any
	SyncStatus SyncStatus
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// --- Domain entities owned by the local store ---

// Base carries the bookkeeping columns shared by every entity table.
type Base struct {
	ID         string     `json:"id"`
	SyncStatus SyncStatus `json:"syncStatus"`
	Version    int        `json:"version"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

// Ward is a reference entity pulled from the remote system.
type Ward struct {
	Base
	WardNumber   int             `json:"wardNumber"`
	WardAreaCode int             `json:"wardAreaCode"`
	Geometry     json.RawMessage `json:"geometry,omitempty"`
}

// Address locates a building inside a ward.
type Address struct {
	Ward        int    `json:"ward"`
	Tole        string `json:"tole"`
	StreetName  string `json:"streetName,omitempty"`
	HouseNumber string `json:"houseNumber,omitempty"`
	Landmark    string `json:"landmark,omitempty"`
}

// Building is a surveyed structure. FamilyIDs and BusinessIDs are lookup
// back-references; the store owns entity lifecycle.
type Building struct {
	Base
	Name             string         `json:"name,omitempty"`
	Address          Address        `json:"address"`
	Location         GeoLocation    `json:"location"`
	BuildingType     string         `json:"buildingType"`     // residential, commercial, mixed, institutional
	ConstructionType string         `json:"constructionType"` // rcc, load-bearing, wooden, other
	TotalFloors      int            `json:"totalFloors"`
	ConstructionYear int            `json:"constructionYear,omitempty"`
	LandArea         float64        `json:"landArea,omitempty"`
	BuiltArea        float64        `json:"builtArea,omitempty"`
	Images           []ImageAsset   `json:"images,omitempty"`
	FamilyIDs        []string       `json:"familyIds,omitempty"`
	BusinessIDs      []string       `json:"businessIds,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
}

// Family is a household inside a building.
type Family struct {
	Base
	BuildingID     string         `json:"buildingId"`
	HeadID         string         `json:"headId"`
	Name           string         `json:"name"`
	MemberIDs      []string       `json:"memberIds,omitempty"`
	EconomicStatus string         `json:"economicStatus"` // low, middle, high
	MonthlyIncome  float64        `json:"monthlyIncome,omitempty"`
	ResidencyType  string         `json:"residencyType"` // owned, rented, other
	ResidencySince *time.Time     `json:"residencySince,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// PersonName splits an individual's name.
type PersonName struct {
	First  string `json:"first"`
	Middle string `json:"middle,omitempty"`
	Last   string `json:"last"`
}

// Individual is a surveyed person belonging to a family.
type Individual struct {
	Base
	FamilyID      string         `json:"familyId"`
	Name          PersonName     `json:"name"`
	DateOfBirth   time.Time      `json:"dateOfBirth"`
	Gender        string         `json:"gender"`
	MaritalStatus string         `json:"maritalStatus"`
	Education     map[string]any `json:"education,omitempty"`
	Occupation    map[string]any `json:"occupation,omitempty"`
	Contact       map[string]any `json:"contact,omitempty"`
	HealthInfo    map[string]any `json:"healthInfo,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// Business is a commercial activity inside a building.
type Business struct {
	Base
	BuildingID      string         `json:"buildingId"`
	Name            string         `json:"name"`
	Type            string         `json:"type"`
	RegistrationNo  string         `json:"registrationNo,omitempty"`
	Ownership       string         `json:"ownership"` // sole, partnership, corporation, other
	EstablishedDate *time.Time     `json:"establishedDate,omitempty"`
	OwnerID         string         `json:"ownerId"`
	Contact         map[string]any `json:"contact,omitempty"`
	Premises        map[string]any `json:"premises,omitempty"`
	Turnover        map[string]any `json:"turnover,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// --- Sync wire contract ---

// TableChanges is the per-table slice of a pull result. Rows are raw JSON
// objects keyed the same way the local columns are.
type TableChanges struct {
	Created []json.RawMessage `json:"created"`
	Updated []json.RawMessage `json:"updated"`
	Deleted []string          `json:"deleted"`
}

// ChangeSet maps table name to its changes.
type ChangeSet map[string]TableChanges

// PullRequest asks the remote for everything that changed after the
// checkpoint.
type PullRequest struct {
	LastPulledAt  int64 `json:"lastPulledAt"` // unix millis, 0 for first pull
	SchemaVersion int   `json:"schemaVersion"`
}

// PullResponse carries the remote changes and the new checkpoint.
type PullResponse struct {
	Changes   ChangeSet `json:"changes"`
	Timestamp int64     `json:"timestamp"` // unix millis
}

// RecordOutcome reports what happened to one record during a push pass.
type RecordOutcome struct {
	RecordID string
	Status   SyncStatus
	Err      error
}

// SyncReport is the per-record result of a push pass. Partial success is the
// expected shape, never an all-or-nothing batch result.
type SyncReport struct {
	Outcomes []RecordOutcome
}

// Synced counts records that reached the synced state.
func (r *SyncReport) Synced() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == SyncSynced {
			n++
		}
	}
	return n
}

// Failed counts records that ended in the error state.
func (r *SyncReport) Failed() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == SyncError {
			n++
		}
	}
	return n
}
