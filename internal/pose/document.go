package pose

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"gopkg.in/yaml.v3"
)

// document is the JSON/YAML layout of a pose artifact.
type document struct {
	Poses        [][]float64 `json:"poses"`
	Translations [][]float64 `json:"translations,omitempty"`
}

// decodeDocument reads a JSON or YAML artifact. A bare top-level list is
// taken as poses without translations.
func decodeDocument(r io.Reader) (poses, trans [][]float64, err error) {
	var raw any
	if err := yaml.NewDecoder(r).Decode(&raw); err != nil {
		if err == io.EOF {
			return nil, nil, ErrEmptySequence
		}
		return nil, nil, err
	}

	switch v := raw.(type) {
	case []any:
		poses, err = toMatrix(v)
		return poses, nil, err
	case map[string]any:
		get := func(k string) (any, bool) {
			x, ok := v[k]
			return x, ok
		}
		p, ok := lookup(get, poseKeys...)
		if !ok {
			return nil, nil, fmt.Errorf("no poses key (tried %v)", poseKeys)
		}
		if poses, err = toMatrix(p); err != nil {
			return nil, nil, fmt.Errorf("poses: %w", err)
		}
		if t, ok := lookup(get, transKeys...); ok {
			if trans, err = toMatrix(t); err != nil {
				return nil, nil, fmt.Errorf("translations: %w", err)
			}
		}
		return poses, trans, nil
	default:
		return nil, nil, fmt.Errorf("unexpected document root %T", raw)
	}
}

// toMatrix converts a decoded list of numeric rows into [][]float64.
// Rows nested deeper than one level (T×24×3) are flattened.
func toMatrix(v any) ([][]float64, error) {
	rows, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("expected a list, got %T", v)
	}
	out := make([][]float64, len(rows))
	for i, row := range rows {
		flat, err := flatten(row, nil)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		out[i] = flat
	}
	return out, nil
}

func flatten(v any, dst []float64) ([]float64, error) {
	switch x := v.(type) {
	case []any:
		var err error
		for _, e := range x {
			if dst, err = flatten(e, dst); err != nil {
				return nil, err
			}
		}
		return dst, nil
	case float64:
		return append(dst, x), nil
	case float32:
		return append(dst, float64(x)), nil
	case int:
		return append(dst, float64(x)), nil
	case int64:
		return append(dst, float64(x)), nil
	default:
		return nil, fmt.Errorf("non-numeric value %v (%T)", v, v)
	}
}

func encodeJSON(s *Sequence) ([]byte, error) {
	doc := document{Poses: s.Poses}
	if s.HadTranslations {
		doc.Translations = s.Translations
	}
	return json.MarshalIndent(doc, "", "  ")
}

// encodeYAML writes one flow-style row per frame.
func encodeYAML(s *Sequence) ([]byte, error) {
	root := &yaml.Node{Kind: yaml.MappingNode}
	root.Content = append(root.Content, scalarNode("poses"), matrixNode(s.Poses))
	if s.HadTranslations {
		root.Content = append(root.Content, scalarNode("translations"), matrixNode(s.Translations))
	}
	return yaml.Marshal(&yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{root}})
}

func scalarNode(v string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Value: v}
}

func matrixNode(rows [][]float64) *yaml.Node {
	n := &yaml.Node{Kind: yaml.SequenceNode}
	for _, row := range rows {
		r := &yaml.Node{Kind: yaml.SequenceNode, Style: yaml.FlowStyle}
		for _, x := range row {
			r.Content = append(r.Content, scalarNode(strconv.FormatFloat(x, 'g', -1, 64)))
		}
		n.Content = append(n.Content, r)
	}
	return n
}
