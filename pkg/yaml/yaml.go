package yaml

import (
	"bytes"
	"errors"

	"gopkg.in/yaml.v3"
)

func Unmarshal(in []byte, out any) error {
	return yaml.Unmarshal(in, out)
}

func Encode(v any, indent int) ([]byte, error) {
	b := bytes.NewBuffer(nil)
	e := yaml.NewEncoder(b)
	e.SetIndent(indent)

	if err := e.Encode(v); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// Patch - change value by path of keys in YAML file without break formatting.
// Missing parent keys are created, nil value removes the key.
func Patch(src []byte, path []string, value any) ([]byte, error) {
	if len(path) == 0 {
		return nil, errors.New("yaml: empty path")
	}

	node, err := root(src)
	if err != nil {
		return nil, err
	}

	// go down while parents exist and are mappings
	i := 0
	for ; node != nil && i < len(path)-1; i++ {
		_, child := findChild(node, path[i])
		if child == nil || child.Kind != yaml.MappingNode {
			break
		}
		node = child
	}

	key := path[i]
	if rest := path[i+1:]; len(rest) > 0 {
		if value == nil {
			return src, nil // nothing to remove
		}
		for j := len(rest) - 1; j >= 0; j-- {
			value = map[string]any{rest[j]: value}
		}
	}

	var dst []byte

	if node != nil {
		dst, err = addOrReplace(src, key, value, node)
	} else {
		dst, err = addToEnd(src, key, value)
	}
	if err != nil {
		return nil, err
	}

	if err = yaml.Unmarshal(dst, map[string]any{}); err != nil {
		return nil, err
	}

	return dst, nil
}

// root return top mapping node or nil for empty document
func root(src []byte) (*yaml.Node, error) {
	if len(src) == 0 {
		return nil, nil
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(src, &doc); err != nil {
		return nil, err
	}

	if doc.Content == nil {
		return nil, nil
	}

	if node := doc.Content[0]; node.Kind == yaml.MappingNode {
		return node, nil
	}

	return nil, errors.New("yaml: root is not a mapping")
}

// findChild - search and return YAML key/value pair for mapping node
func findChild(node *yaml.Node, name string) (key, value *yaml.Node) {
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == name {
			return node.Content[i], node.Content[i+1]
		}
	}
	return nil, nil
}

func firstChild(node *yaml.Node) *yaml.Node {
	if node.Content == nil {
		return node
	}
	return node.Content[0]
}

func lastChild(node *yaml.Node) *yaml.Node {
	if node.Content == nil {
		return node
	}
	return lastChild(node.Content[len(node.Content)-1])
}

func addOrReplace(src []byte, key string, value any, parent *yaml.Node) ([]byte, error) {
	put, err := Encode(map[string]any{key: value}, 2)
	if err != nil {
		return nil, err
	}

	var i0, i1 int

	if nodeKey, nodeValue := findChild(parent, key); nodeKey != nil {
		put = addIndent(put, nodeKey.Column-1)
		i0 = lineOffset(src, nodeKey.Line)
		i1 = lineOffset(src, lastChild(nodeValue).Line+1)
	} else {
		if value == nil {
			return src, nil
		}
		put = addIndent(put, firstChild(parent).Column-1)
		i1 = lineOffset(src, lastChild(parent).Line+1)
		i0 = i1
	}

	if value == nil {
		put = nil
	}

	if i1 < 0 { // no new line on the end of file
		if i0 < 0 {
			src = append(src, '\n')
			i0 = len(src)
		}
		return append(src[:i0:i0], put...), nil
	}

	dst := make([]byte, 0, len(src)+len(put))
	dst = append(dst, src[:i0]...)
	dst = append(dst, put...)
	return append(dst, src[i1:]...), nil
}

func addToEnd(src []byte, key string, value any) ([]byte, error) {
	if value == nil {
		return src, nil
	}

	put, err := Encode(map[string]any{key: value}, 2)
	if err != nil {
		return nil, err
	}

	dst := make([]byte, 0, len(src)+len(put)+1)
	dst = append(dst, src...)
	if l := len(src); l > 0 && src[l-1] != '\n' {
		dst = append(dst, '\n')
	}
	return append(dst, put...), nil
}

func addIndent(src []byte, indent int) (dst []byte) {
	pre := bytes.Repeat([]byte{' '}, indent)
	for len(src) > 0 {
		dst = append(dst, pre...)
		i := bytes.IndexByte(src, '\n') + 1
		if i == 0 {
			dst = append(dst, src...)
			break
		}
		dst = append(dst, src[:i]...)
		src = src[i:]
	}
	return
}

func lineOffset(b []byte, line int) (offset int) {
	for l := 1; ; l++ {
		if l == line {
			return offset
		}

		i := bytes.IndexByte(b[offset:], '\n') + 1
		if i == 0 {
			break
		}
		offset += i
	}
	return -1
}
