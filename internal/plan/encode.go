package plan

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/symbolicaengine-ai/symbolica-sub000/internal/expression"
	"github.com/symbolicaengine-ai/symbolica-sub000/internal/rules"
)

// FormatVersion is the current artifact format version.
const FormatVersion = 1

var (
	ErrUnsupportedVersion = errors.New("unsupported plan format version")
	ErrChecksumMismatch   = errors.New("plan checksum mismatch")
)

// Header is the envelope metadata of a serialized plan.
type Header struct {
	Version  int    `json:"version"`
	Checksum string `json:"checksum"` // sha256 of the compact body
	NumRules int    `json:"num_rules"`
}

type envelope struct {
	Header
	Body json.RawMessage `json:"body"`
}

// body is the serialized content. Slices are in a canonical order so equal
// plans encode to identical bytes.
type body struct {
	Name      string       `json:"name,omitempty"`
	Rules     []rules.Rule `json:"rules"`
	Layers    [][]string   `json:"layers"`
	Nodes     []*RuleNode  `json:"nodes"`
	Fields    []*FieldNode `json:"fields"`
	Conflicts []Conflict   `json:"conflicts,omitempty"`
	Warnings  []Warning    `json:"warnings,omitempty"`
}

// Encode serializes p into the artifact format.
func Encode(p *Plan) ([]byte, error) {
	if p == nil {
		return nil, errors.New("nil plan")
	}
	b := body{
		Name:      p.Name,
		Layers:    p.Layers,
		Conflicts: p.Conflicts,
		Warnings:  p.Warnings,
	}
	if b.Layers == nil {
		b.Layers = [][]string{}
	}
	for _, id := range p.RuleIDs() {
		b.Rules = append(b.Rules, p.Rules[id].Definition)
		if n, ok := p.Nodes[id]; ok {
			b.Nodes = append(b.Nodes, n)
		}
	}
	fieldNames := make([]string, 0, len(p.Fields))
	for name := range p.Fields {
		fieldNames = append(fieldNames, name)
	}
	sort.Strings(fieldNames)
	for _, name := range fieldNames {
		b.Fields = append(b.Fields, p.Fields[name])
	}
	if b.Rules == nil {
		b.Rules = []rules.Rule{}
	}
	if b.Nodes == nil {
		b.Nodes = []*RuleNode{}
	}
	if b.Fields == nil {
		b.Fields = []*FieldNode{}
	}

	raw, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal plan body: %w", err)
	}
	env := envelope{
		Header: Header{Version: FormatVersion, Checksum: checksum(raw), NumRules: len(b.Rules)},
		Body:   raw,
	}
	return json.MarshalIndent(env, "", "  ")
}

// ReadHeader decodes only the envelope metadata.
func ReadHeader(data []byte) (Header, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Header{}, fmt.Errorf("failed to unmarshal plan: %w", err)
	}
	return env.Header, nil
}

// Decode verifies and restores a serialized plan. Rule expressions are
// recompiled against reg (the builtins when nil); layers, graph and
// conflicts are restored as stored.
func Decode(data []byte, reg *expression.Registry) (*Plan, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to unmarshal plan: %w", err)
	}
	if env.Version != FormatVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, env.Version)
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, env.Body); err != nil {
		return nil, fmt.Errorf("failed to read plan body: %w", err)
	}
	if got := checksum(compact.Bytes()); got != env.Checksum {
		return nil, fmt.Errorf("%w: header %s, body %s", ErrChecksumMismatch, env.Checksum, got)
	}

	var b body
	if err := json.Unmarshal(compact.Bytes(), &b); err != nil {
		return nil, fmt.Errorf("failed to unmarshal plan body: %w", err)
	}
	if reg == nil {
		reg = expression.NewRegistry()
	}
	p := &Plan{
		Name:      b.Name,
		Rules:     make(map[string]*Rule, len(b.Rules)),
		Nodes:     make(map[string]*RuleNode, len(b.Nodes)),
		Fields:    make(map[string]*FieldNode, len(b.Fields)),
		Layers:    b.Layers,
		Conflicts: b.Conflicts,
		Warnings:  b.Warnings,
		Functions: reg,
	}
	var errs []error
	for _, def := range b.Rules {
		r, err := CompileRule(def, reg)
		if err != nil {
			errs = append(errs, fmt.Errorf("rule %q: %w", def.ID, err))
			continue
		}
		p.Rules[def.ID] = r
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	for _, n := range b.Nodes {
		p.Nodes[n.ID] = n
	}
	for _, f := range b.Fields {
		p.Fields[f.Name] = f
	}
	for _, layer := range p.Layers {
		for _, id := range layer {
			if _, ok := p.Rules[id]; !ok {
				return nil, fmt.Errorf("layer references unknown rule %q", id)
			}
		}
	}
	return p, nil
}

func checksum(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
