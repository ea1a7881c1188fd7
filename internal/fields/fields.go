// Package fields manages the submission field registry: the named values
// collected alongside a card and sent to the backend.
//
// Two fields are builtin and never edited directly: the card number and the
// treatment timestamp are filled by the workflow at submit time. Everything
// else is operator-editable and survives between cards until reset.
package fields

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/card-capture/ccd/internal/config"
	"github.com/card-capture/ccd/internal/protocol"
)

// Field is one submission field with its current value.
type Field struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	ParamName    string `json:"paramName"`
	Enabled      bool   `json:"enabled"`
	Value        string `json:"value"`
	DefaultValue string `json:"defaultValue,omitempty"`
	SampleValue  string `json:"sampleValue,omitempty"`
	NumericOnly  bool   `json:"numericOnly,omitempty"`
	Builtin      bool   `json:"builtin,omitempty"`
}

// Update carries a partial field edit. Nil members keep the current value.
type Update struct {
	Name    *string `json:"name,omitempty"`
	Enabled *bool   `json:"enabled,omitempty"`
	Value   *string `json:"value,omitempty"`
}

// Recognizer resolves a field value from an external source, typically the
// screen-scraping sidecar. Implementations may take a while; the context
// bounds them.
type Recognizer interface {
	Recognize(ctx context.Context, paramName string) (string, error)
}

// Registry holds the field set in presentation order.
type Registry struct {
	mu     sync.RWMutex
	fields []*Field
	byID   map[string]*Field
}

// NewRegistry builds a registry from configuration seeds. Seeds without an
// ID get one assigned.
func NewRegistry(seeds []config.FieldSeed) *Registry {
	r := &Registry{byID: make(map[string]*Field, len(seeds))}
	for _, seed := range seeds {
		id := seed.ID
		if id == "" {
			id = uuid.NewString()
		}
		f := &Field{
			ID:           id,
			Name:         seed.Name,
			ParamName:    seed.ParamName,
			Enabled:      seed.Enabled,
			Value:        seed.DefaultValue,
			DefaultValue: seed.DefaultValue,
			SampleValue:  seed.SampleValue,
			NumericOnly:  seed.NumericOnly,
			Builtin:      seed.Builtin,
		}
		r.fields = append(r.fields, f)
		r.byID[id] = f
	}
	return r
}

// List returns a snapshot of every field in order.
func (r *Registry) List() []Field {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Field, len(r.fields))
	for i, f := range r.fields {
		out[i] = *f
	}
	return out
}

// Get returns one field by ID.
func (r *Registry) Get(id string) (Field, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	f, ok := r.byID[id]
	if !ok {
		return Field{}, fmt.Errorf("field %s not found", id)
	}
	return *f, nil
}

// Apply edits a field. Builtin fields only accept the Enabled toggle.
func (r *Registry) Apply(id string, update Update) (Field, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok := r.byID[id]
	if !ok {
		return Field{}, fmt.Errorf("field %s not found", id)
	}

	if f.Builtin && (update.Name != nil || update.Value != nil) {
		return Field{}, fmt.Errorf("field %s is builtin and cannot be edited", f.ParamName)
	}

	if update.Name != nil {
		f.Name = *update.Name
	}
	if update.Enabled != nil {
		f.Enabled = *update.Enabled
	}
	if update.Value != nil {
		f.Value = cleanValue(f, *update.Value)
	}
	return *f, nil
}

// Add appends a new operator-defined field.
func (r *Registry) Add(seed config.FieldSeed) (Field, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if seed.ParamName == "" {
		return Field{}, fmt.Errorf("field needs a param name")
	}
	for _, f := range r.fields {
		if f.ParamName == seed.ParamName {
			return Field{}, fmt.Errorf("field param %s already exists", seed.ParamName)
		}
	}

	f := &Field{
		ID:           uuid.NewString(),
		Name:         seed.Name,
		ParamName:    seed.ParamName,
		Enabled:      seed.Enabled,
		Value:        seed.DefaultValue,
		DefaultValue: seed.DefaultValue,
		SampleValue:  seed.SampleValue,
		NumericOnly:  seed.NumericOnly,
	}
	r.fields = append(r.fields, f)
	r.byID[f.ID] = f
	return *f, nil
}

// Remove deletes an operator-defined field. Builtins stay.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok := r.byID[id]
	if !ok {
		return fmt.Errorf("field %s not found", id)
	}
	if f.Builtin {
		return fmt.Errorf("field %s is builtin and cannot be removed", f.ParamName)
	}

	delete(r.byID, id)
	for i, cur := range r.fields {
		if cur.ID == id {
			r.fields = append(r.fields[:i], r.fields[i+1:]...)
			break
		}
	}
	return nil
}

// Reset restores every editable field to its default value.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, f := range r.fields {
		if !f.Builtin {
			f.Value = f.DefaultValue
		}
	}
}

// Params renders the enabled non-builtin fields as wire parameters in
// presentation order. Values go out as they stand; sample values are display
// hints and never reach the backend.
func (r *Registry) Params() []protocol.Param {
	r.mu.RLock()
	defer r.mu.RUnlock()

	params := make([]protocol.Param, 0, len(r.fields))
	for _, f := range r.fields {
		if !f.Enabled || f.Builtin {
			continue
		}
		params = append(params, protocol.Param{Name: f.ParamName, Value: f.Value})
	}
	return params
}

// Missing returns the param names of enabled non-builtin fields that still
// have no value, for operator warnings.
func (r *Registry) Missing() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var missing []string
	for _, f := range r.fields {
		if f.Enabled && !f.Builtin && f.Value == "" {
			missing = append(missing, f.ParamName)
		}
	}
	return missing
}

// Refresh pulls fresh values for the enabled non-builtin fields from the
// recognizer. A field the recognizer cannot resolve keeps its value; the
// names of refreshed fields are returned.
func (r *Registry) Refresh(ctx context.Context, rec Recognizer) ([]string, error) {
	if rec == nil {
		return nil, fmt.Errorf("no recognizer configured")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var refreshed []string
	for _, f := range r.fields {
		if !f.Enabled || f.Builtin {
			continue
		}
		value, err := rec.Recognize(ctx, f.ParamName)
		if err != nil || value == "" {
			continue
		}
		f.Value = cleanValue(f, value)
		refreshed = append(refreshed, f.ParamName)
	}
	return refreshed, nil
}

// cleanValue strips everything but digits from numeric-only fields. The
// recognizer tends to pick up stray punctuation around ages.
func cleanValue(f *Field, value string) string {
	value = strings.TrimSpace(value)
	if !f.NumericOnly {
		return value
	}
	var b strings.Builder
	for i := 0; i < len(value); i++ {
		if value[i] >= '0' && value[i] <= '9' {
			b.WriteByte(value[i])
		}
	}
	return b.String()
}
