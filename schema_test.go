package fieldform

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const buildingSurveyJSON = `{
	"id": "building-survey",
	"version": "1.2.0",
	"title": "Building Survey",
	"type": "building",
	"settings": {
		"saveAsDraft": true,
		"autoSave": true,
		"autoSaveInterval": 15000
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
			"id": "step-structure",
			"title": "Structure",
			"sections": [
				{
					"id": "sec-structure",
					"title": "Structure",
					"fields": [
						{
							"id": "buildingType",
							"type": "select",
							"label": "Building type",
							"required": true,
							"select": {
								"options": [
									{"value": "residential", "label": "Residential"},
									{"value": "commercial", "label": "Commercial"},
									{"value": "mixed", "label": "Mixed"}
								]
							}
						},
						{
							"id": "shopCount",
							"type": "number",
							"label": "Number of shops",
							"dependencies": [
								{"field": "buildingType", "operator": "notEquals", "value": "residential"}
							]
						}
					]
				}
			]
		},
		{
			"id": "step-business",
			"title": "Business details",
			"dependencies": [
				{"field": "buildingType", "operator": "equals", "value": "commercial"}
			],
			"sections": [
				{
					"id": "sec-business",
					"title": "Business",
					"fields": [
						{
							"id": "businessName",
							"type": "text",
							"label": "Business name",
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

// TestParseFormConfig tests decoding a complete valid document
func TestParseFormConfig(t *testing.T) {
	cfg, err := ParseFormConfig([]byte(buildingSurveyJSON))
	require.NoError(t, err)

	assert.Equal(t, "building-survey", cfg.ID)
	assert.Equal(t, "1.2.0", cfg.Version)
	assert.Equal(t, EntityBuilding, cfg.EntityType)
	require.Len(t, cfg.Steps, 4)

	ward := cfg.Steps[0].Sections[0].Fields[0]
	assert.Equal(t, FieldNumber, ward.Kind)
	require.NotNil(t, ward.Number)
	assert.Equal(t, float64(1), *ward.Number.Min)
	assert.Equal(t, float64(32), *ward.Number.Max)

	assert.True(t, cfg.Settings.AutoSave)
	assert.Equal(t, 15*time.Second, cfg.Settings.AutoSaveInterval)
}

// TestParseFormConfigSettingsDefaults tests interval and strategy defaults
func TestParseFormConfigSettingsDefaults(t *testing.T) {
	doc := `{
		"id": "f", "version": "1", "title": "F", "type": "family",
		"settings": {"autoSave": true},
		"steps": [{"id": "s1", "title": "S", "sections": [
			{"id": "sec1", "title": "Sec", "fields": [
				{"id": "name", "type": "text", "label": "Name"}
			]}
		]}]
	}`

	cfg, err := ParseFormConfig([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, DefaultAutoSaveInterval, cfg.Settings.AutoSaveInterval)
	assert.Equal(t, "onChange", cfg.Settings.ValidationStrategy)
}

// TestParseFormConfigRejectsInvalidJSON tests the malformed-document path
func TestParseFormConfigRejectsInvalidJSON(t *testing.T) {
	_, err := ParseFormConfig([]byte(`{"id": `))
	assert.True(t, IsSchemaError(err))
}

// TestParseFormConfigRejectsMissingSteps tests the structural gate
func TestParseFormConfigRejectsMissingSteps(t *testing.T) {
	_, err := ParseFormConfig([]byte(`{
		"id": "f", "version": "1", "title": "F", "type": "building", "steps": []
	}`))
	assert.True(t, IsSchemaError(err))
}

// TestParseFormConfigRejectsUnknownEntityType tests entity type checking
func TestParseFormConfigRejectsUnknownEntityType(t *testing.T) {
	_, err := ParseFormConfig([]byte(`{
		"id": "f", "version": "1", "title": "F", "type": "spaceship",
		"steps": [{"id": "s1", "title": "S", "sections": [
			{"id": "sec1", "title": "Sec", "fields": [
				{"id": "name", "type": "text", "label": "Name"}
			]}
		]}]
	}`))
	assert.True(t, IsSchemaError(err))
}

// TestParseFormConfigRejectsDuplicateFieldIDs tests id uniqueness
func TestParseFormConfigRejectsDuplicateFieldIDs(t *testing.T) {
	_, err := ParseFormConfig([]byte(`{
		"id": "f", "version": "1", "title": "F", "type": "building",
		"steps": [{"id": "s1", "title": "S", "sections": [
			{"id": "sec1", "title": "Sec", "fields": [
				{"id": "name", "type": "text", "label": "Name"},
				{"id": "name", "type": "text", "label": "Name again"}
			]}
		]}]
	}`))
	require.Error(t, err)

	var ffErr *Error
	require.ErrorAs(t, err, &ffErr)
	assert.Equal(t, ErrCodeDuplicateID, ffErr.Code)
}

// TestParseFormConfigDropsUnknownFieldKind tests that a field of a kind this
// client does not know is skipped while the rest of the form stays usable
func TestParseFormConfigDropsUnknownFieldKind(t *testing.T) {
	cfg, err := ParseFormConfig([]byte(`{
		"id": "f", "version": "1", "title": "F", "type": "building",
		"steps": [{"id": "s1", "title": "S", "sections": [
			{"id": "sec1", "title": "Sec", "fields": [
				{"id": "name", "type": "text", "label": "Name"},
				{"id": "x", "type": "hologram", "label": "X"},
				{"id": "ward", "type": "number", "label": "Ward"}
			]}
		]}]
	}`))
	require.NoError(t, err)

	fields := cfg.Steps[0].Sections[0].Fields
	require.Len(t, fields, 2)
	assert.Equal(t, "name", fields[0].ID)
	assert.Equal(t, "ward", fields[1].ID)
}

// TestParseFormConfigRejectsAllUnknownFields tests that a form with nothing
// left to render is rejected
func TestParseFormConfigRejectsAllUnknownFields(t *testing.T) {
	_, err := ParseFormConfig([]byte(`{
		"id": "f", "version": "1", "title": "F", "type": "building",
		"steps": [{"id": "s1", "title": "S", "sections": [
			{"id": "sec1", "title": "Sec", "fields": [
				{"id": "x", "type": "hologram", "label": "X"},
				{"id": "y", "type": "teleport", "label": "Y"}
			]}
		]}]
	}`))
	require.Error(t, err)

	var ffErr *Error
	require.ErrorAs(t, err, &ffErr)
	assert.Equal(t, ErrCodeUnknownFieldKind, ffErr.Code)
}

// TestFormSettingsRoundTrip tests the millisecond wire encoding
func TestFormSettingsRoundTrip(t *testing.T) {
	s := FormSettings{
		AutoSave:           true,
		AutoSaveInterval:   45 * time.Second,
		ValidationStrategy: "onBlur",
	}

	data, err := s.MarshalJSON()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"autoSaveInterval":45000`)

	var decoded FormSettings
	require.NoError(t, decoded.UnmarshalJSON(data))
	assert.Equal(t, s, decoded)
}
