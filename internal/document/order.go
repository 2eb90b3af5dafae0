package document

import (
	"bytes"
	"reflect"
	"sort"

	"github.com/tidwall/gjson"
	"gopkg.in/yaml.v3"
)

// keyOrder holds the declared key order of every mapping of a decoded tree,
// keyed by map identity.
type keyOrder map[uintptr][]string

func mapID(m map[string]any) uintptr {
	return reflect.ValueOf(m).Pointer()
}

// readKeyOrder walks raw next to tree, the value it decoded to. JSON is read
// with gjson, anything else as a YAML node tree. A source that does not parse
// yields no order.
func readKeyOrder(raw []byte, tree map[string]any) keyOrder {
	o := keyOrder{}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		if !gjson.ValidBytes(trimmed) {
			return nil
		}
		o.fromJSON(gjson.ParseBytes(trimmed), tree)
		return o
	}
	var root yaml.Node
	if err := yaml.Unmarshal(trimmed, &root); err != nil {
		return nil
	}
	o.fromYAML(&root, tree)
	return o
}

func (o keyOrder) fromJSON(r gjson.Result, v any) {
	switch t := v.(type) {
	case map[string]any:
		if !r.IsObject() {
			return
		}
		var keys []string
		seen := make(map[string]bool, len(t))
		r.ForEach(func(k, val gjson.Result) bool {
			name := k.String()
			child, ok := t[name]
			if !ok {
				return true
			}
			if !seen[name] {
				seen[name] = true
				keys = append(keys, name)
			}
			o.fromJSON(val, child)
			return true
		})
		o[mapID(t)] = keys
	case []any:
		if !r.IsArray() {
			return
		}
		for i, val := range r.Array() {
			if i >= len(t) {
				break
			}
			o.fromJSON(val, t[i])
		}
	}
}

func (o keyOrder) fromYAML(n *yaml.Node, v any) {
	for {
		if n.Kind == yaml.DocumentNode && len(n.Content) > 0 {
			n = n.Content[0]
			continue
		}
		if n.Kind == yaml.AliasNode && n.Alias != nil {
			n = n.Alias
			continue
		}
		break
	}
	switch t := v.(type) {
	case map[string]any:
		if n.Kind != yaml.MappingNode {
			return
		}
		var keys []string
		seen := make(map[string]bool, len(t))
		for i := 0; i+1 < len(n.Content); i += 2 {
			name := n.Content[i].Value
			child, ok := t[name]
			if !ok || n.Content[i].Tag == "!!merge" {
				continue
			}
			if !seen[name] {
				seen[name] = true
				keys = append(keys, name)
			}
			o.fromYAML(n.Content[i+1], child)
		}
		o[mapID(t)] = keys
	case []any:
		if n.Kind != yaml.SequenceNode {
			return
		}
		for i, child := range n.Content {
			if i >= len(t) {
				break
			}
			o.fromYAML(child, t[i])
		}
	}
}

// keys returns the keys of m in declared order when every key is known.
func (o keyOrder) keys(m map[string]any) ([]string, bool) {
	if o == nil || len(m) == 0 {
		return nil, false
	}
	keys, ok := o[mapID(m)]
	if !ok || len(keys) != len(m) {
		return nil, false
	}
	return append([]string(nil), keys...), true
}

// SortedKeys returns the keys of m in lexical order.
func SortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
