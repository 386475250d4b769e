package prodamus

import (
	"net/url"
	"strconv"
	"strings"
)

// DecodeForm rebuilds the nested structure that PHP derives from bracketed
// form keys such as products[0][sku]. When a key repeats, the last value wins.
func DecodeForm(values url.Values) map[string]any {
	root := make(map[string]any)
	for rawKey, vals := range values {
		if len(vals) == 0 {
			continue
		}
		path := splitKey(rawKey)
		for _, v := range vals {
			assign(root, path, v)
		}
	}
	return root
}

// splitKey turns "a[b][0]" into ["a", "b", "0"]. An empty segment ("a[]")
// is kept and resolved to the next free index on assignment.
func splitKey(key string) []string {
	open := strings.IndexByte(key, '[')
	if open <= 0 || !strings.HasSuffix(key, "]") {
		return []string{key}
	}
	path := []string{key[:open]}
	rest := key[open:]
	for len(rest) > 0 && rest[0] == '[' {
		end := strings.IndexByte(rest, ']')
		if end < 0 {
			return []string{key}
		}
		path = append(path, rest[1:end])
		rest = rest[end+1:]
	}
	if rest != "" {
		return []string{key}
	}
	return path
}

func assign(node map[string]any, path []string, value string) {
	for i, seg := range path {
		if seg == "" {
			seg = strconv.Itoa(nextIndex(node))
		}
		if i == len(path)-1 {
			node[seg] = value
			return
		}
		child, ok := node[seg].(map[string]any)
		if !ok {
			child = make(map[string]any)
			node[seg] = child
		}
		node = child
	}
}

func nextIndex(node map[string]any) int {
	next := 0
	for k := range node {
		if i, ok := indexKey(k); ok && i >= next {
			next = i + 1
		}
	}
	return next
}
