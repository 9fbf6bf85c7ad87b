package rule

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/intentgate/intentgate/internal/domain/message"
	"github.com/intentgate/intentgate/pkg/optional"
)

// ErrNotAList is returned when a rule document is not a list of records.
var ErrNotAList = errors.New("rule document is not a list of rule records")

// Config is the wire form of a rule, as written in rule files, the state
// file and the admin API.
type Config struct {
	ID           string                 `json:"id" yaml:"id"`
	Name         string                 `json:"name,omitempty" yaml:"name,omitempty"`
	Enabled      optional.Value[bool]   `json:"enabled,omitzero" yaml:"enabled,omitempty"`
	Priority     int                    `json:"priority" yaml:"priority"`
	PackageName  optional.Value[string] `json:"packageName,omitzero" yaml:"packageName,omitempty"`
	Action       optional.Value[string] `json:"action,omitzero" yaml:"action,omitempty"`
	Data         optional.Value[string] `json:"data,omitzero" yaml:"data,omitempty"`
	Type         optional.Value[string] `json:"type,omitzero" yaml:"type,omitempty"`
	Component    optional.Value[string] `json:"component,omitzero" yaml:"component,omitempty"`
	Categories   []string               `json:"categories,omitempty" yaml:"categories,omitempty"`
	ExtraMatches []ExtraMatchConfig     `json:"extraMatches,omitempty" yaml:"extraMatches,omitempty"`
	// Condition is an optional CEL expression over the message.
	Condition    string              `json:"condition,omitempty" yaml:"condition,omitempty"`
	IntentAction string              `json:"intentAction" yaml:"intentAction"`
	Modification *ModificationConfig `json:"modification,omitempty" yaml:"modification,omitempty"`
}

// ExtraMatchConfig is the wire form of an ExtraMatcher.
type ExtraMatchConfig struct {
	Key       string `json:"key" yaml:"key"`
	Value     any    `json:"value,omitempty" yaml:"value,omitempty"`
	MatchType string `json:"matchType" yaml:"matchType"`
}

// ModificationConfig is the wire form of a Modification.
type ModificationConfig struct {
	NewAction      optional.Value[string]   `json:"newAction,omitzero" yaml:"newAction,omitempty"`
	NewData        optional.Value[string]   `json:"newData,omitzero" yaml:"newData,omitempty"`
	NewType        optional.Value[string]   `json:"newType,omitzero" yaml:"newType,omitempty"`
	NewCategories  optional.Value[[]string] `json:"newCategories,omitzero" yaml:"newCategories,omitempty"`
	NewComponent   optional.Value[string]   `json:"newComponent,omitzero" yaml:"newComponent,omitempty"`
	ExtrasToAdd    []message.ExtraSpec      `json:"extrasToAdd,omitempty" yaml:"extrasToAdd,omitempty"`
	ExtrasToRemove []string                 `json:"extrasToRemove,omitempty" yaml:"extrasToRemove,omitempty"`
	Flags          optional.Value[int]      `json:"flags,omitzero" yaml:"flags,omitempty"`
}

// Decode parses a JSON array or YAML sequence of rule records. A document
// that is a mapping with a "rules" key is unwrapped first. Records that
// cannot be decoded are reported as diagnostics; only a document that is
// not a list at all returns an error.
func Decode(raw []byte) ([]Config, []Diagnostic, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, nil, fmt.Errorf("%w: empty document", ErrNotAList)
	}
	if trimmed[0] == '[' || trimmed[0] == '{' {
		return decodeJSON(trimmed)
	}
	return decodeYAML(trimmed)
}

func decodeJSON(raw []byte) ([]Config, []Diagnostic, error) {
	if raw[0] == '{' {
		var wrapper struct {
			Rules json.RawMessage `json:"rules"`
		}
		if err := json.Unmarshal(raw, &wrapper); err != nil || len(wrapper.Rules) == 0 {
			return nil, nil, fmt.Errorf("%w: object without a rules list", ErrNotAList)
		}
		raw = wrapper.Rules
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrNotAList, err)
	}

	configs := make([]Config, 0, len(items))
	var diags []Diagnostic
	for i, item := range items {
		var cfg Config
		if err := message.DecodeJSON(item, &cfg); err != nil {
			diags = append(diags, Diagnostic{Index: i, RuleID: peekJSONID(item), Message: "malformed record: " + err.Error()})
			configs = append(configs, Config{})
			continue
		}
		configs = append(configs, cfg)
	}
	return configs, diags, nil
}

func decodeYAML(raw []byte) ([]Config, []Diagnostic, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrNotAList, err)
	}
	node := &doc
	if node.Kind == yaml.DocumentNode && len(node.Content) > 0 {
		node = node.Content[0]
	}
	if node.Kind == yaml.MappingNode {
		node = mappingValue(node, "rules")
	}
	if node == nil || node.Kind != yaml.SequenceNode {
		return nil, nil, ErrNotAList
	}

	configs := make([]Config, 0, len(node.Content))
	var diags []Diagnostic
	for i, item := range node.Content {
		var cfg Config
		if err := item.Decode(&cfg); err != nil {
			id := ""
			if item.Kind == yaml.MappingNode {
				if v := mappingValue(item, "id"); v != nil {
					id = v.Value
				}
			}
			diags = append(diags, Diagnostic{Index: i, RuleID: id, Message: "malformed record: " + err.Error()})
			configs = append(configs, Config{})
			continue
		}
		configs = append(configs, cfg)
	}
	return configs, diags, nil
}

func mappingValue(node *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return node.Content[i+1]
		}
	}
	return nil
}

func peekJSONID(raw json.RawMessage) string {
	var probe struct {
		ID any `json:"id"`
	}
	if err := message.DecodeJSON(raw, &probe); err != nil || probe.ID == nil {
		return ""
	}
	return message.FormatRaw(probe.ID)
}

// Compile validates a record and builds a Rule. The returned warnings do
// not prevent the rule from loading.
func Compile(cfg Config, index int, cc ConditionCompiler) (Rule, []string, error) {
	id := strings.TrimSpace(cfg.ID)
	if id == "" {
		return Rule{}, nil, errors.New("rule id is empty")
	}
	action, err := ParseAction(cfg.IntentAction)
	if err != nil {
		return Rule{}, nil, err
	}

	r := Rule{
		ID:       id,
		Name:     cfg.Name,
		Enabled:  cfg.Enabled.OrElse(true),
		Priority: cfg.Priority,
		Index:    index,
		Action:   action,
		Config:   cfg.Clone(),
	}

	c := &r.Criteria
	c.PackageName = nonEmpty(cfg.PackageName)
	c.Action = nonEmpty(cfg.Action)
	if src, ok := nonEmpty(cfg.Data).Get(); ok {
		p, err := CompileRegex(src)
		if err != nil {
			return Rule{}, nil, fmt.Errorf("data: %w", err)
		}
		c.Data = optional.Of(p)
	}
	if src, ok := nonEmpty(cfg.Type).Get(); ok {
		p, err := CompileMimePattern(src)
		if err != nil {
			return Rule{}, nil, fmt.Errorf("type: %w", err)
		}
		c.Type = optional.Of(p)
	}
	if raw, ok := nonEmpty(cfg.Component).Get(); ok {
		if comp, err := message.ParseComponent(raw); err == nil {
			c.Component = optional.Of(comp.Flatten())
		} else {
			c.Component = optional.Of(raw)
		}
	}
	for _, cat := range cfg.Categories {
		if cat != "" {
			c.Categories = append(c.Categories, cat)
		}
	}
	for _, em := range cfg.ExtraMatches {
		mt, err := ParseMatchType(em.MatchType)
		if err != nil {
			return Rule{}, nil, fmt.Errorf("extraMatches[%s]: %w", em.Key, err)
		}
		m, err := NewExtraMatcher(em.Key, mt, message.FormatRaw(em.Value))
		if err != nil {
			return Rule{}, nil, err
		}
		c.Extras = append(c.Extras, m)
	}
	if expr := strings.TrimSpace(cfg.Condition); expr != "" {
		if cc == nil {
			return Rule{}, nil, errors.New("condition expressions are not enabled")
		}
		cond, err := cc.CompileCondition(expr)
		if err != nil {
			return Rule{}, nil, fmt.Errorf("condition: %w", err)
		}
		c.Condition = cond
	}

	var warnings []string
	if cfg.Modification != nil {
		if !action.Rewrites() {
			warnings = append(warnings, fmt.Sprintf("modification ignored for %s rule", action))
		} else {
			mod, w := compileModification(cfg.Modification)
			r.Modification = optional.Of(mod)
			warnings = append(warnings, w...)
		}
	}
	return r, warnings, nil
}

func compileModification(mc *ModificationConfig) (Modification, []string) {
	var warnings []string
	mod := Modification{
		NewAction:      nonEmpty(mc.NewAction),
		NewData:        nonEmpty(mc.NewData),
		NewType:        nonEmpty(mc.NewType),
		NewComponent:   nonEmpty(mc.NewComponent),
		NewCategories:  mc.NewCategories,
		NewFlags:       mc.Flags,
		ExtrasToAdd:    slices.Clone(mc.ExtrasToAdd),
		ExtrasToRemove: slices.Clone(mc.ExtrasToRemove),
	}
	if raw, ok := mod.NewComponent.Get(); ok {
		if _, err := message.ParseComponent(raw); err != nil {
			warnings = append(warnings, fmt.Sprintf("newComponent will be skipped: %v", err))
		}
	}
	for _, e := range mod.ExtrasToAdd {
		if _, _, err := e.Convert(); err != nil {
			warnings = append(warnings, fmt.Sprintf("extrasToAdd entry will be skipped: %v", err))
		}
	}
	return mod, warnings
}

// nonEmpty treats an explicitly empty string like an absent one.
func nonEmpty(v optional.Value[string]) optional.Value[string] {
	s, ok := v.Get()
	if !ok || s == "" {
		return optional.None[string]()
	}
	return v
}

// Clone returns a deep copy of the record.
func (c Config) Clone() Config {
	out := c
	out.Categories = slices.Clone(c.Categories)
	out.ExtraMatches = slices.Clone(c.ExtraMatches)
	if c.Modification != nil {
		m := *c.Modification
		if cats, ok := m.NewCategories.Get(); ok {
			m.NewCategories = optional.Of(slices.Clone(cats))
		}
		m.ExtrasToAdd = slices.Clone(m.ExtrasToAdd)
		m.ExtrasToRemove = slices.Clone(m.ExtrasToRemove)
		out.Modification = &m
	}
	return out
}

// Encode renders records as an indented JSON array or a YAML sequence.
func Encode(configs []Config, format string) ([]byte, error) {
	switch strings.ToLower(format) {
	case "", "json":
		if configs == nil {
			configs = []Config{}
		}
		data, err := json.MarshalIndent(configs, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("encode rules as json: %w", err)
		}
		return append(data, '\n'), nil
	case "yaml", "yml":
		data, err := yaml.Marshal(configs)
		if err != nil {
			return nil, fmt.Errorf("encode rules as yaml: %w", err)
		}
		return data, nil
	}
	return nil, fmt.Errorf("unsupported rule format %q", format)
}
