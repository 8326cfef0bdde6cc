package fieldform

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"go.uber.org/zap"
)

//go:embed schemas/formconfig.schema.json
var formConfigSchemaJSON []byte

// ParseFormConfig validates a raw form-config document against the embedded
// JSON schema, decodes it, applies settings defaults and enforces the
// structural invariants a runtime relies on (unique ids, at least one step).
// Fields of a kind this engine does not know are dropped with a logged
// warning, so a config authored for a newer client still renders its known
// fields; a config left with no usable fields is rejected.
func ParseFormConfig(data []byte) (*FormConfig, error) {
	if err := validateDocument(data); err != nil {
		return nil, err
	}

	var cfg FormConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, NewSchemaError(ErrCodeSchemaInvalid, "failed to decode form config").WithCause(err)
	}

	applySettingsDefaults(&cfg.Settings)

	if err := checkInvariants(&cfg); err != nil {
		return nil, err
	}
	if err := pruneUnknownFields(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func validateDocument(data []byte) error {
	var schema jsonschema.Schema
	if err := json.Unmarshal(formConfigSchemaJSON, &schema); err != nil {
		return NewInternalError("embedded form-config schema is broken", err)
	}

	resolved, err := schema.Resolve(&jsonschema.ResolveOptions{})
	if err != nil {
		return NewInternalError("failed to resolve form-config schema", err)
	}

	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return NewSchemaError(ErrCodeSchemaInvalid, "form config is not valid JSON").WithCause(err)
	}

	if err := resolved.Validate(doc); err != nil {
		return NewSchemaError(ErrCodeSchemaInvalid, "form config failed schema validation").WithCause(err)
	}
	return nil
}

// DefaultAutoSaveInterval is used when a config enables autosave without
// naming an interval.
const DefaultAutoSaveInterval = 30 * time.Second

func applySettingsDefaults(s *FormSettings) {
	if s.AutoSave && s.AutoSaveInterval <= 0 {
		s.AutoSaveInterval = DefaultAutoSaveInterval
	}
	if s.ValidationStrategy == "" {
		s.ValidationStrategy = "onChange"
	}
}

func checkInvariants(cfg *FormConfig) error {
	if cfg.ID == "" {
		return NewSchemaError(ErrCodeSchemaInvalid, "form config is missing an id")
	}
	if cfg.Version == "" {
		return NewSchemaError(ErrCodeSchemaInvalid, "form config is missing a version")
	}
	switch cfg.EntityType {
	case EntityBuilding, EntityFamily, EntityIndividual, EntityBusiness:
	default:
		return NewSchemaError(ErrCodeSchemaInvalid,
			fmt.Sprintf("unknown entity type %q", cfg.EntityType))
	}
	if len(cfg.Steps) == 0 {
		return NewSchemaError(ErrCodeSchemaInvalid, "form config must declare at least one step")
	}

	stepIDs := map[string]bool{}
	sectionIDs := map[string]bool{}
	fieldIDs := map[string]bool{}

	for _, step := range cfg.Steps {
		if step.ID == "" {
			return NewSchemaError(ErrCodeSchemaInvalid, "step is missing an id")
		}
		if stepIDs[step.ID] {
			return NewSchemaError(ErrCodeDuplicateID, fmt.Sprintf("duplicate step id %q", step.ID))
		}
		stepIDs[step.ID] = true

		for _, section := range step.Sections {
			if section.ID == "" {
				return NewSchemaError(ErrCodeSchemaInvalid,
					fmt.Sprintf("section in step %q is missing an id", step.ID))
			}
			if sectionIDs[section.ID] {
				return NewSchemaError(ErrCodeDuplicateID, fmt.Sprintf("duplicate section id %q", section.ID))
			}
			sectionIDs[section.ID] = true

			for _, field := range section.Fields {
				if field.ID == "" {
					return NewSchemaError(ErrCodeSchemaInvalid,
						fmt.Sprintf("field in section %q is missing an id", section.ID))
				}
				if fieldIDs[field.ID] {
					return NewSchemaError(ErrCodeDuplicateID, fmt.Sprintf("duplicate field id %q", field.ID))
				}
				fieldIDs[field.ID] = true
			}
		}
	}
	return nil
}

// pruneUnknownFields drops fields whose kind this engine cannot render or
// validate. Configs are shared with newer clients; an unknown kind only voids
// that field, never the whole form.
func pruneUnknownFields(cfg *FormConfig) error {
	known := make(map[FieldKind]bool, len(KnownFieldKinds()))
	for _, k := range KnownFieldKinds() {
		known[k] = true
	}

	usable := 0
	for si := range cfg.Steps {
		for ci := range cfg.Steps[si].Sections {
			section := &cfg.Steps[si].Sections[ci]
			kept := section.Fields[:0]
			for _, field := range section.Fields {
				if !known[field.Kind] {
					zap.S().Warnw("skipping field of unknown kind",
						"form", cfg.ID, "field", field.ID, "kind", field.Kind)
					continue
				}
				kept = append(kept, field)
			}
			section.Fields = kept
			usable += len(kept)
		}
	}

	if usable == 0 {
		return NewSchemaError(ErrCodeUnknownFieldKind, "form config has no usable fields")
	}
	return nil
}

// UnmarshalJSON decodes settings with the autosave interval expressed in
// milliseconds, the unit the config documents use.
func (s *FormSettings) UnmarshalJSON(data []byte) error {
	type settingsAlias struct {
		SaveAsDraft        bool   `json:"saveAsDraft"`
		RequireLocation    bool   `json:"requireLocation"`
		OfflineSupport     bool   `json:"offlineSupport"`
		AutoSave           bool   `json:"autoSave"`
		AutoSaveInterval   int64  `json:"autoSaveInterval"`
		ValidationStrategy string `json:"validationStrategy"`
	}
	var alias settingsAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	s.SaveAsDraft = alias.SaveAsDraft
	s.RequireLocation = alias.RequireLocation
	s.OfflineSupport = alias.OfflineSupport
	s.AutoSave = alias.AutoSave
	s.AutoSaveInterval = time.Duration(alias.AutoSaveInterval) * time.Millisecond
	s.ValidationStrategy = alias.ValidationStrategy
	return nil
}

// MarshalJSON is the counterpart of UnmarshalJSON, keeping millisecond
// intervals on the wire.
func (s FormSettings) MarshalJSON() ([]byte, error) {
	type settingsAlias struct {
		SaveAsDraft        bool   `json:"saveAsDraft,omitempty"`
		RequireLocation    bool   `json:"requireLocation,omitempty"`
		OfflineSupport     bool   `json:"offlineSupport,omitempty"`
		AutoSave           bool   `json:"autoSave,omitempty"`
		AutoSaveInterval   int64  `json:"autoSaveInterval,omitempty"`
		ValidationStrategy string `json:"validationStrategy,omitempty"`
	}
	return json.Marshal(settingsAlias{
		SaveAsDraft:        s.SaveAsDraft,
		RequireLocation:    s.RequireLocation,
		OfflineSupport:     s.OfflineSupport,
		AutoSave:           s.AutoSave,
		AutoSaveInterval:   s.AutoSaveInterval.Milliseconds(),
		ValidationStrategy: s.ValidationStrategy,
	})
}
