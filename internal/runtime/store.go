package runtime

import (
	"bytes"
	"encoding/json"

	"github.com/symbolicaengine-ai/symbolica-sub000/internal/value"
)

// write is a proposed field update from one fired rule.
type write struct {
	field string
	value value.Value
}

type writer struct {
	rule     string
	priority int
	layer    int
}

// store is the fact store of one pass. The caller's input map is shared,
// never copied; writes go to an overlay. Reads during a layer see the
// overlay as of the previous merge, since merges only happen between
// layers.
type store struct {
	input   map[string]value.Value
	overlay map[string]value.Value
	writers map[string]writer
	order   []string
}

func newStore(input map[string]value.Value) *store {
	return &store{
		input:   input,
		overlay: make(map[string]value.Value),
		writers: make(map[string]writer),
	}
}

// Get implements expression.Facts.
func (s *store) Get(name string) (value.Value, bool) {
	if v, ok := s.overlay[name]; ok {
		return v, true
	}
	v, ok := s.input[name]
	return v, ok
}

// apply merges one rule's writes. Within a layer the first writer of a
// field keeps it; across layers a later write replaces an earlier one
// unless the earlier writer has strictly higher priority. It reports the
// fields actually written.
func (s *store) apply(rule string, priority, layer int, writes []write) []string {
	var applied []string
	for _, w := range writes {
		if prev, ok := s.writers[w.field]; ok {
			if prev.layer == layer || prev.priority > priority {
				continue
			}
		} else {
			s.order = append(s.order, w.field)
		}
		s.overlay[w.field] = w.value
		s.writers[w.field] = writer{rule: rule, priority: priority, layer: layer}
		applied = append(applied, w.field)
	}
	return applied
}

// verdict returns the fields whose final value was absent from the input or
// differs from it, in first-write order.
func (s *store) verdict() *Verdict {
	v := &Verdict{values: make(map[string]value.Value)}
	for _, field := range s.order {
		final := s.overlay[field]
		if orig, ok := s.input[field]; ok && value.Equal(orig, final) {
			continue
		}
		v.keys = append(v.keys, field)
		v.values[field] = final
	}
	return v
}

// Verdict is the set of fields a pass added or changed, in the order they
// were first written.
type Verdict struct {
	keys   []string
	values map[string]value.Value
}

// Keys returns the fields in first-write order.
func (v *Verdict) Keys() []string { return v.keys }

// Len returns the number of fields.
func (v *Verdict) Len() int { return len(v.keys) }

// Get returns the value of field.
func (v *Verdict) Get(field string) (value.Value, bool) {
	val, ok := v.values[field]
	return val, ok
}

// Map converts the verdict to plain Go values.
func (v *Verdict) Map() map[string]any {
	out := make(map[string]any, len(v.keys))
	for _, k := range v.keys {
		out[k] = v.values[k].ToAny()
	}
	return out
}

// MarshalJSON writes an object whose keys follow first-write order.
func (v *Verdict) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range v.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := v.values[k].MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
