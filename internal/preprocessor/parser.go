package preprocessor

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/symbolicaengine-ai/symbolica-sub000/internal/rules"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// RuleFile is the top-level document of a rule file. A file may also be a
// bare list of rules.
type RuleFile struct {
	Name  string       `json:"name,omitempty" yaml:"name,omitempty"`
	Rules []rules.Rule `json:"rules" yaml:"rules" validate:"dive"`
}

// ParseRules decodes a JSON or YAML rule document.
func ParseRules(data []byte) (*RuleFile, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, errors.New("rule document is empty")
	}
	var file RuleFile
	switch trimmed[0] {
	case '[':
		if err := json.Unmarshal(trimmed, &file.Rules); err != nil {
			return nil, fmt.Errorf("failed to unmarshal rules JSON: %w", err)
		}
	case '{':
		if err := json.Unmarshal(trimmed, &file); err != nil {
			return nil, fmt.Errorf("failed to unmarshal rules JSON: %w", err)
		}
	default:
		var node yaml.Node
		if err := yaml.Unmarshal(trimmed, &node); err != nil {
			return nil, fmt.Errorf("failed to unmarshal rules YAML: %w", err)
		}
		doc := &node
		if doc.Kind == yaml.DocumentNode && len(doc.Content) == 1 {
			doc = doc.Content[0]
		}
		var err error
		if doc.Kind == yaml.SequenceNode {
			err = doc.Decode(&file.Rules)
		} else {
			err = doc.Decode(&file)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal rules YAML: %w", err)
		}
	}
	return &file, nil
}

// ValidateRules checks the schema of every rule and returns all problems
// found, joined.
func ValidateRules(rs []rules.Rule) error {
	var errs []error
	for i := range rs {
		if err := validateRule(&rs[i], i); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func validateRule(rule *rules.Rule, index int) error {
	name := rule.ID
	if name == "" {
		name = fmt.Sprintf("#%d", index)
	}
	var errs []error
	if err := validate.Struct(rule); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				errs = append(errs, fmt.Errorf("rule '%s': field %s failed '%s' validation", name, fe.Namespace(), fe.Tag()))
			}
		} else {
			errs = append(errs, fmt.Errorf("rule '%s': %w", name, err))
		}
	}
	if rule.Condition.IsZero() {
		errs = append(errs, fmt.Errorf("rule '%s' must have a condition", name))
	}
	return errors.Join(errs...)
}
