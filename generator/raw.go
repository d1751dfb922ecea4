package generator

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"

	"github.com/migadu/sieveforge/consts"
	"gopkg.in/yaml.v3"
)

// DecodeRawResponse decodes a category document. JSON is tried first; any
// document that is not valid JSON is decoded as YAML.
func DecodeRawResponse(data []byte) (map[string]any, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty document", consts.ErrInvalidInput)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err == nil {
		return raw, nil
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: document is neither JSON nor YAML: %v", consts.ErrInvalidInput, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: document is not a mapping", consts.ErrInvalidInput)
	}
	return raw, nil
}

// GenerateFilterFromRawResponse parses a decoded category document and
// generates a filter from it. Malformed entries are reported as skips.
func (g *FilterGenerator) GenerateFilterFromRawResponse(raw map[string]any) (*Result, error) {
	categories, skipped, err := ParseCategories(raw)
	if err != nil {
		return nil, err
	}

	res, err := g.GenerateFilterFromCategories(categories)
	if err != nil {
		return nil, err
	}
	res.Skipped = append(skipped, res.Skipped...)
	return res, nil
}

// ParseCategories reads the "categories" array of a decoded document.
func ParseCategories(raw map[string]any) ([]CategoryPattern, []Skip, error) {
	v, ok := raw["categories"]
	if !ok {
		return nil, nil, fmt.Errorf("%w: response missing 'categories' field", consts.ErrInvalidInput)
	}
	entries, ok := v.([]any)
	if !ok && v != nil {
		return nil, nil, fmt.Errorf("%w: 'categories' must be a list, got %T", consts.ErrInvalidInput, v)
	}

	p := &parser{}
	return p.parseList(entries, nil, 1), p.skipped, nil
}

type parser struct {
	skipped []Skip
}

func (p *parser) parseList(entries []any, path []string, depth int) []CategoryPattern {
	var out []CategoryPattern
	for i, entry := range entries {
		c, err := p.parseEntry(entry, path, depth)
		if err != nil {
			name := fmt.Sprintf("#%d", i)
			if m, ok := entry.(map[string]any); ok {
				if n, ok := m["name"].(string); ok && n != "" {
					name = n
				}
			}
			reason := SkipMalformed
			if depth > MaxCategoryDepth {
				reason = SkipTooDeep
			}
			p.skipped = append(p.skipped, Skip{Path: childPath(path, name), Reason: reason, Err: err})
			continue
		}
		out = append(out, c)
	}
	return out
}

func (p *parser) parseEntry(entry any, path []string, depth int) (CategoryPattern, error) {
	m, ok := entry.(map[string]any)
	if !ok {
		return CategoryPattern{}, fmt.Errorf("entry is %T, not an object", entry)
	}
	if depth > MaxCategoryDepth {
		return CategoryPattern{}, fmt.Errorf("nesting deeper than %d", MaxCategoryDepth)
	}

	name, err := stringField(m, "name", "")
	if err != nil {
		return CategoryPattern{}, err
	}
	if name == "" {
		return CategoryPattern{}, fmt.Errorf("missing 'name'")
	}

	c := CategoryPattern{Name: name}
	if c.Description, err = stringField(m, "description", ""); err != nil {
		return CategoryPattern{}, err
	}
	if c.SuggestedFolder, err = stringField(m, "suggested_folder", name); err != nil {
		return CategoryPattern{}, err
	}
	if c.Patterns, err = stringListField(m, "patterns"); err != nil {
		return CategoryPattern{}, err
	}
	if c.ExampleSubjects, err = stringListField(m, "example_subjects"); err != nil {
		return CategoryPattern{}, err
	}
	if c.Confidence, err = confidenceField(m, "confidence", DefaultMinConfidence); err != nil {
		return CategoryPattern{}, err
	}

	switch subs := m["subcategories"].(type) {
	case nil:
	case []any:
		c.Subcategories = p.parseList(subs, childPath(path, name), depth+1)
	default:
		return CategoryPattern{}, fmt.Errorf("'subcategories' is %T, not a list", subs)
	}
	return c, nil
}

func stringField(m map[string]any, key, def string) (string, error) {
	switch v := m[key].(type) {
	case nil:
		return def, nil
	case string:
		return v, nil
	default:
		return "", fmt.Errorf("'%s' is %T, not a string", key, v)
	}
}

func stringListField(m map[string]any, key string) ([]string, error) {
	switch v := m[key].(type) {
	case nil:
		return nil, nil
	case []any:
		out := make([]string, 0, len(v))
		for i, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("'%s[%d]' is %T, not a string", key, i, item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("'%s' is %T, not a list", key, v)
	}
}

func confidenceField(m map[string]any, key string, def float64) (float64, error) {
	var f float64
	switch v := m[key].(type) {
	case nil:
		return def, nil
	case float64:
		f = v
	case int:
		f = float64(v)
	case int64:
		f = float64(v)
	default:
		return 0, fmt.Errorf("'%s' is %T, not a number", key, v)
	}
	if math.IsNaN(f) || f < 0 || f > 1 {
		return 0, fmt.Errorf("'%s' %v outside [0,1]", key, f)
	}
	return f, nil
}
