package fieldform

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Runtime drives a single in-progress form: it owns the live value map, the
// current step index and the validation gates around step transitions. All
// collaborators are injected; the runtime holds no ambient state.
type Runtime struct {
	mu sync.Mutex

	config    *FormConfig
	values    map[string]any
	stepIndex int
	startedAt time.Time
	entityID  string
	userID    string
	location  *GeoLocation
	media     *MediaBundle
	metadata  map[string]any

	now     func() time.Time
	onDirty func(formID, fieldPath string)
}

// RuntimeOption configures a Runtime at construction time.
type RuntimeOption func(*Runtime)

// WithClock injects a time source, for deterministic tests.
func WithClock(now func() time.Time) RuntimeOption {
	return func(r *Runtime) { r.now = now }
}

// WithIdentity names the surveyor filling the form.
func WithIdentity(userID string) RuntimeOption {
	return func(r *Runtime) { r.userID = userID }
}

// WithEntity binds the form to the surveyed entity.
func WithEntity(entityID string) RuntimeOption {
	return func(r *Runtime) { r.entityID = entityID }
}

// WithLocation records the captured position for the response.
func WithLocation(loc *GeoLocation) RuntimeOption {
	return func(r *Runtime) { r.location = loc }
}

// WithDirtyObserver registers the callback invoked on every value change,
// typically the autosaver's MarkDirty.
func WithDirtyObserver(fn func(formID, fieldPath string)) RuntimeOption {
	return func(r *Runtime) { r.onDirty = fn }
}

// WithInitialData resumes a previously saved draft.
func WithInitialData(resp *FormResponse) RuntimeOption {
	return func(r *Runtime) {
		if resp == nil {
			return
		}
		r.entityID = resp.EntityID
		r.startedAt = resp.StartedAt
		r.location = resp.Location
		r.media = resp.Media
		r.metadata = resp.Metadata
		for _, step := range resp.Steps {
			for _, section := range step.Sections {
				for _, fr := range section.Fields {
					setPath(r.values, fr.FieldID, fr.Value)
				}
			}
		}
	}
}

// NewRuntime creates a Runtime over a parsed form config.
func NewRuntime(config *FormConfig, opts ...RuntimeOption) (*Runtime, error) {
	if config == nil {
		return nil, NewSchemaError(ErrCodeSchemaInvalid, "form config cannot be nil")
	}
	if len(config.Steps) == 0 {
		return nil, NewSchemaError(ErrCodeSchemaInvalid, "form config has no steps")
	}
	r := &Runtime{
		config: config,
		values: make(map[string]any),
		now:    time.Now,
	}
	for _, step := range config.Steps {
		for _, section := range step.Sections {
			for _, field := range section.Fields {
				if field.DefaultValue != nil {
					setPath(r.values, field.ID, field.DefaultValue)
				}
			}
		}
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.startedAt.IsZero() {
		r.startedAt = r.now()
	}
	return r, nil
}

// Config returns the immutable form config backing this runtime.
func (r *Runtime) Config() *FormConfig {
	return r.config
}

// SetValue stores a field value at its (possibly dotted) path and notifies
// the dirty observer. Visibility of dependent fields changes on the next
// Visible* call; nothing is cached.
func (r *Runtime) SetValue(path string, value any) {
	r.mu.Lock()
	setPath(r.values, path, value)
	r.mu.Unlock()
	if r.onDirty != nil {
		r.onDirty(r.config.ID, path)
	}
}

// Value resolves a dotted path against the live value map.
func (r *Runtime) Value(path string) any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return LookupPath(r.values, path)
}

// Values returns a snapshot of the live value map.
func (r *Runtime) Values() map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return cloneValues(r.values)
}

// StepIndex returns the current zero-based step position.
func (r *Runtime) StepIndex() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stepIndex
}

// CurrentStep returns the step the surveyor is on.
func (r *Runtime) CurrentStep() Step {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.config.Steps[r.stepIndex]
}

// Progress reports (index+1)/totalSteps. It is monotonic non-decreasing as
// the surveyor advances and is independent of dynamically hidden sections.
func (r *Runtime) Progress() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return float64(r.stepIndex+1) / float64(len(r.config.Steps))
}

// StepVisible reports whether a step's own dependency gate passes against
// the live values.
func (r *Runtime) StepVisible(step Step) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return EvaluateAll(step.Dependencies, r.values)
}

// VisibleSections filters a step's sections through the dependency
// evaluator against the live snapshot of all form values. Cross-step
// references are allowed.
func (r *Runtime) VisibleSections(step Step) []Section {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Section
	for _, section := range step.Sections {
		if EvaluateAll(section.Dependencies, r.values) {
			out = append(out, section)
		}
	}
	return out
}

// VisibleFields filters a section's fields the same way, honoring the
// static Hidden flag and OR-groups when declared.
func (r *Runtime) VisibleFields(section Section) []Field {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.visibleFieldsLocked(section)
}

func (r *Runtime) visibleFieldsLocked(section Section) []Field {
	var out []Field
	for _, field := range section.Fields {
		if field.Hidden {
			continue
		}
		if len(field.DependencyGroups) > 0 {
			if !EvaluateAnyGroup(field.DependencyGroups, r.values) {
				continue
			}
		} else if !EvaluateAll(field.Dependencies, r.values) {
			continue
		}
		out = append(out, field)
	}
	return out
}

// GoNext validates the visible fields of the current step. On failure the
// transition is rejected and the offending fields are returned; on success
// the index advances past any dependency-hidden steps, capped at the last
// step (a no-op at the boundary).
func (r *Runtime) GoNext() FormErrors {
	r.mu.Lock()
	defer r.mu.Unlock()

	errs := r.validateStepLocked(r.config.Steps[r.stepIndex])
	if errs.HasErrors() {
		return errs
	}

	// stay put when every later step is hidden, including the last one
	next := r.stepIndex + 1
	for next < len(r.config.Steps) && !EvaluateAll(r.config.Steps[next].Dependencies, r.values) {
		next++
	}
	if next < len(r.config.Steps) {
		r.stepIndex = next
	}
	return nil
}

// GoPrevious moves back one step, floored at 0. No validation runs; entered
// data is preserved, never discarded.
func (r *Runtime) GoPrevious() {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.stepIndex - 1
	for prev >= 0 && !EvaluateAll(r.config.Steps[prev].Dependencies, r.values) {
		prev--
	}
	if prev >= 0 {
		r.stepIndex = prev
	}
}

// Submit runs full-form validation across every visible field of every
// visible step. On success it assembles the completed response and stamps
// completedAt; on failure it returns the structured errors and the form
// stays on its current step.
func (r *Runtime) Submit() (*FormResponse, FormErrors) {
	r.mu.Lock()
	defer r.mu.Unlock()

	errs := make(FormErrors)
	for _, step := range r.config.Steps {
		if !EvaluateAll(step.Dependencies, r.values) {
			continue
		}
		errs.Merge(r.validateStepLocked(step))
	}
	if errs.HasErrors() {
		return nil, errs
	}

	resp := r.assembleLocked(StatusCompleted)
	completed := r.now()
	resp.CompletedAt = &completed
	return resp, nil
}

// SaveDraft assembles a partial response with status draft. Validation is
// not required; drafts may be saved at any step.
func (r *Runtime) SaveDraft() *FormResponse {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.assembleLocked(StatusDraft)
}

// StepForField locates the step index declaring a field, -1 when unknown.
// Used to surface the first failing step after a rejected submit.
func (r *Runtime) StepForField(fieldID string) int {
	for i, step := range r.config.Steps {
		for _, section := range step.Sections {
			for _, field := range section.Fields {
				if field.ID == fieldID {
					return i
				}
			}
		}
	}
	return -1
}

func (r *Runtime) validateStepLocked(step Step) FormErrors {
	errs := make(FormErrors)
	for _, section := range step.Sections {
		if !EvaluateAll(section.Dependencies, r.values) {
			continue
		}
		for _, field := range r.visibleFieldsLocked(section) {
			value := LookupPath(r.values, field.ID)
			if fieldErr := ValidateField(field, value); fieldErr != nil {
				errs[field.ID] = *fieldErr
			}
		}
	}
	return errs
}

func (r *Runtime) assembleLocked(status ResponseStatus) *FormResponse {
	steps := make([]StepResponse, 0, len(r.config.Steps))
	for _, step := range r.config.Steps {
		sections := make([]SectionResponse, 0, len(step.Sections))
		for _, section := range step.Sections {
			fields := make([]FieldResponse, 0, len(section.Fields))
			for _, field := range section.Fields {
				value := LookupPath(r.values, field.ID)
				if value == nil {
					continue
				}
				fields = append(fields, FieldResponse{FieldID: field.ID, Value: value})
			}
			sections = append(sections, SectionResponse{SectionID: section.ID, Fields: fields})
		}
		steps = append(steps, StepResponse{StepID: step.ID, Sections: sections})
	}

	return &FormResponse{
		FormID:         r.config.ID,
		Version:        r.config.Version,
		EntityType:     r.config.EntityType,
		EntityID:       r.entityID,
		Steps:          steps,
		Status:         status,
		Location:       r.location,
		StartedAt:      r.startedAt,
		LastModifiedAt: r.now(),
		SubmittedBy:    r.userID,
		Media:          r.media,
		Metadata:       r.metadata,
	}
}

// setPath writes a value at a dotted path, creating intermediate objects as
// needed. A non-object intermediate is replaced.
func setPath(values map[string]any, path string, value any) {
	segments := strings.Split(path, ".")
	current := values
	for i := 0; i < len(segments)-1; i++ {
		next, ok := current[segments[i]].(map[string]any)
		if !ok || next == nil {
			next = make(map[string]any)
			current[segments[i]] = next
		}
		current = next
	}
	current[segments[len(segments)-1]] = value
}

func cloneValues(src map[string]any) map[string]any {
	dst := make(map[string]any, len(src))
	for k, v := range src {
		if nested, ok := v.(map[string]any); ok {
			dst[k] = cloneValues(nested)
			continue
		}
		dst[k] = v
	}
	return dst
}

// String implements fmt.Stringer for debugging.
func (r *Runtime) String() string {
	return fmt.Sprintf("Runtime(form=%s step=%d/%d)", r.config.ID, r.StepIndex()+1, len(r.config.Steps))
}
