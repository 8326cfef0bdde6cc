package fieldform

import (
	"fmt"
	"net/mail"
	"net/url"
	"regexp"
	"strings"
)

var phonePattern = regexp.MustCompile(`^\+?[0-9][0-9\s\-]{5,17}$`)

// ValidateField checks a value against a field's required flag, rule list
// and kind-specific constraints. It returns nil when the value passes.
// Disabled fields always pass.
func ValidateField(field Field, value any) *FieldError {
	if field.Disabled {
		return nil
	}

	if isEmpty(value) {
		if field.Required || hasRule(field, RuleRequired) {
			return &FieldError{
				Type:    string(RuleRequired),
				Message: ruleMessage(field, RuleRequired, fmt.Sprintf("%s is required", field.Label)),
			}
		}
		// nothing else to check against an empty value
		return nil
	}

	for _, rule := range field.Validation {
		if err := applyRule(field, rule, value); err != nil {
			return err
		}
	}

	return validateKind(field, value)
}

func hasRule(field Field, t RuleType) bool {
	for _, r := range field.Validation {
		if r.Type == t {
			return true
		}
	}
	return false
}

func ruleMessage(field Field, t RuleType, fallback string) string {
	for _, r := range field.Validation {
		if r.Type == t && r.Message != "" {
			return r.Message
		}
	}
	return fallback
}

func applyRule(field Field, rule ValidationRule, value any) *FieldError {
	fail := func(fallback string) *FieldError {
		msg := rule.Message
		if msg == "" {
			msg = fallback
		}
		return &FieldError{Type: string(rule.Type), Message: msg}
	}

	switch rule.Type {
	case RuleRequired:
		// handled before the rule loop
		return nil
	case RuleMin:
		bound := toNumber(rule.Value)
		if toNumber(value) < bound {
			return fail(fmt.Sprintf("%s must be at least %v", field.Label, rule.Value))
		}
	case RuleMax:
		bound := toNumber(rule.Value)
		if toNumber(value) > bound {
			return fail(fmt.Sprintf("%s must be at most %v", field.Label, rule.Value))
		}
	case RuleMinLength:
		if float64(len(coerceString(value))) < toNumber(rule.Value) {
			return fail(fmt.Sprintf("%s must be at least %v characters", field.Label, rule.Value))
		}
	case RuleMaxLength:
		if float64(len(coerceString(value))) > toNumber(rule.Value) {
			return fail(fmt.Sprintf("%s must be at most %v characters", field.Label, rule.Value))
		}
	case RulePattern:
		pattern, _ := rule.Value.(string)
		re, err := regexp.Compile(pattern)
		if err != nil {
			// a broken pattern is a config defect, not a user error
			return nil
		}
		if !re.MatchString(coerceString(value)) {
			return fail(fmt.Sprintf("%s has an invalid format", field.Label))
		}
	case RuleEmail:
		if _, err := mail.ParseAddress(coerceString(value)); err != nil {
			return fail(fmt.Sprintf("%s must be a valid email address", field.Label))
		}
	case RuleURL:
		u, err := url.Parse(coerceString(value))
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fail(fmt.Sprintf("%s must be a valid URL", field.Label))
		}
	case RulePhone:
		if !phonePattern.MatchString(coerceString(value)) {
			return fail(fmt.Sprintf("%s must be a valid phone number", field.Label))
		}
	}
	return nil
}

// validateKind applies the constraint block matching the field's kind. The
// switch is exhaustive over FieldKind so a new kind fails loudly here rather
// than validating silently.
func validateKind(field Field, value any) *FieldError {
	switch field.Kind {
	case FieldText, FieldTextarea:
		return validateText(field, value)
	case FieldEmail:
		if _, err := mail.ParseAddress(coerceString(value)); err != nil {
			return &FieldError{Type: string(RuleEmail), Message: fmt.Sprintf("%s must be a valid email address", field.Label)}
		}
		return validateText(field, value)
	case FieldPhone:
		if !phonePattern.MatchString(coerceString(value)) {
			return &FieldError{Type: string(RulePhone), Message: fmt.Sprintf("%s must be a valid phone number", field.Label)}
		}
		return validateText(field, value)
	case FieldNumber:
		return validateNumber(field, value)
	case FieldDate, FieldTime:
		return nil
	case FieldSelect, FieldRadio:
		return validateOption(field, value)
	case FieldMultiSelect:
		return validateMultiSelect(field, value)
	case FieldCheckbox:
		return nil
	case FieldGeo:
		return validateGeo(field, value)
	case FieldImage, FieldAudio, FieldFile:
		return validateMedia(field, value)
	case FieldRelationship:
		return nil
	default:
		return &FieldError{
			Type:    ErrCodeUnknownFieldKind,
			Message: fmt.Sprintf("unknown field kind %q", field.Kind),
		}
	}
}

func validateText(field Field, value any) *FieldError {
	c := field.Text
	if c == nil {
		return nil
	}
	s := coerceString(value)
	if c.MinLength != nil && len(s) < *c.MinLength {
		return &FieldError{Type: string(RuleMinLength), Message: fmt.Sprintf("%s must be at least %d characters", field.Label, *c.MinLength)}
	}
	if c.MaxLength != nil && len(s) > *c.MaxLength {
		return &FieldError{Type: string(RuleMaxLength), Message: fmt.Sprintf("%s must be at most %d characters", field.Label, *c.MaxLength)}
	}
	if c.Pattern != "" {
		if re, err := regexp.Compile(c.Pattern); err == nil && !re.MatchString(s) {
			return &FieldError{Type: string(RulePattern), Message: fmt.Sprintf("%s has an invalid format", field.Label)}
		}
	}
	return nil
}

func validateNumber(field Field, value any) *FieldError {
	n := toNumber(value)
	if n != n { // NaN
		return &FieldError{Type: ErrCodeInvalidFormat, Message: fmt.Sprintf("%s must be a number", field.Label)}
	}
	c := field.Number
	if c == nil {
		return nil
	}
	if c.Min != nil && n < *c.Min {
		return &FieldError{Type: string(RuleMin), Message: fmt.Sprintf("%s must be at least %v", field.Label, *c.Min)}
	}
	if c.Max != nil && n > *c.Max {
		return &FieldError{Type: string(RuleMax), Message: fmt.Sprintf("%s must be at most %v", field.Label, *c.Max)}
	}
	return nil
}

func validateOption(field Field, value any) *FieldError {
	c := field.Select
	if c == nil || len(c.Options) == 0 {
		return nil
	}
	for _, opt := range c.Options {
		if looseEqual(opt.Value, value) {
			return nil
		}
	}
	return &FieldError{Type: ErrCodeInvalidFormat, Message: fmt.Sprintf("%s must be one of the listed options", field.Label)}
}

func validateMultiSelect(field Field, value any) *FieldError {
	values, ok := value.([]any)
	if !ok {
		return &FieldError{Type: ErrCodeInvalidFormat, Message: fmt.Sprintf("%s must be a list of options", field.Label)}
	}
	c := field.Select
	if c == nil {
		return nil
	}
	if c.MaxSelect > 0 && len(values) > c.MaxSelect {
		return &FieldError{Type: string(RuleMax), Message: fmt.Sprintf("%s allows at most %d selections", field.Label, c.MaxSelect)}
	}
	if len(c.Options) == 0 {
		return nil
	}
	for _, v := range values {
		if err := validateOption(field, v); err != nil {
			return err
		}
	}
	return nil
}

func validateGeo(field Field, value any) *FieldError {
	loc, ok := value.(map[string]any)
	if !ok {
		if _, isLoc := value.(*GeoLocation); !isLoc {
			if _, isVal := value.(GeoLocation); !isVal {
				return &FieldError{Type: ErrCodeInvalidFormat, Message: fmt.Sprintf("%s must be a captured location", field.Label)}
			}
		}
		return nil
	}
	c := field.Geo
	if c == nil || c.RequireAccuracy == nil {
		return nil
	}
	acc, present := loc["accuracy"]
	if !present || toNumber(acc) > *c.RequireAccuracy {
		return &FieldError{
			Type:    "accuracy",
			Message: fmt.Sprintf("%s requires a fix within %v meters", field.Label, *c.RequireAccuracy),
		}
	}
	return nil
}

func validateMedia(field Field, value any) *FieldError {
	c := field.Media
	if c == nil {
		return nil
	}
	assets, ok := value.([]any)
	if !ok {
		assets = []any{value}
	}
	if c.MaxFiles > 0 && len(assets) > c.MaxFiles {
		return &FieldError{Type: string(RuleMax), Message: fmt.Sprintf("%s allows at most %d files", field.Label, c.MaxFiles)}
	}
	for _, a := range assets {
		m, ok := a.(map[string]any)
		if !ok {
			continue
		}
		if c.MaxSize > 0 {
			if size, present := m["size"]; present && toNumber(size) > float64(c.MaxSize) {
				return &FieldError{Type: string(RuleMax), Message: fmt.Sprintf("%s files must be at most %d bytes", field.Label, c.MaxSize)}
			}
		}
		if len(c.AcceptedTypes) > 0 {
			mime := coerceString(m["mimeType"])
			if mime != "" && !acceptedType(c.AcceptedTypes, mime) {
				return &FieldError{Type: ErrCodeInvalidFormat, Message: fmt.Sprintf("%s does not accept %s files", field.Label, mime)}
			}
		}
	}
	return nil
}

func acceptedType(accepted []string, mime string) bool {
	for _, a := range accepted {
		if a == mime {
			return true
		}
		// "image/*" style wildcard
		if prefix, ok := strings.CutSuffix(a, "/*"); ok && strings.HasPrefix(mime, prefix+"/") {
			return true
		}
	}
	return false
}

// isEmpty reports whether a value counts as unanswered.
func isEmpty(value any) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(v) == ""
	case []any:
		return len(v) == 0
	}
	return false
}
