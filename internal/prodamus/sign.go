// Package prodamus implements the signature scheme used by Prodamus payment
// notifications: the payload is key-sorted at every level, every leaf is
// converted to a string, the result is JSON-encoded the way PHP's json_encode
// does with JSON_UNESCAPED_UNICODE, and the text is signed with HMAC-SHA256.
package prodamus

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Sign returns the lowercase hex HMAC-SHA256 of the canonical form of payload.
func Sign(payload map[string]any, secret string) (string, error) {
	canonical, err := Canonical(payload)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(canonical))
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Verify reports whether signature matches payload. Hex case is ignored.
func Verify(payload map[string]any, secret, signature string) bool {
	signature = strings.ToLower(strings.TrimSpace(signature))
	if signature == "" {
		return false
	}
	expected, err := Sign(payload, secret)
	if err != nil {
		return false
	}
	return hmac.Equal([]byte(expected), []byte(signature))
}

// Canonical renders payload in the signing form.
func Canonical(payload map[string]any) (string, error) {
	var b strings.Builder
	if err := writeValue(&b, payload); err != nil {
		return "", err
	}
	return b.String(), nil
}

func writeValue(b *strings.Builder, v any) error {
	switch t := v.(type) {
	case map[string]any:
		if list, ok := asList(t); ok {
			return writeList(b, list)
		}
		return writeObject(b, t)
	case map[string]string:
		m := make(map[string]any, len(t))
		for k, s := range t {
			m[k] = s
		}
		return writeValue(b, m)
	case []any:
		return writeList(b, t)
	case []string:
		list := make([]any, len(t))
		for i, s := range t {
			list[i] = s
		}
		return writeList(b, list)
	default:
		s, err := leafString(t)
		if err != nil {
			return err
		}
		writeString(b, s)
		return nil
	}
}

func writeObject(b *strings.Builder, m map[string]any) error {
	keys := sortedKeys(m)
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		writeString(b, k)
		b.WriteByte(':')
		if err := writeValue(b, m[k]); err != nil {
			return fmt.Errorf("key %q: %w", k, err)
		}
	}
	b.WriteByte('}')
	return nil
}

func writeList(b *strings.Builder, list []any) error {
	b.WriteByte('[')
	for i, item := range list {
		if i > 0 {
			b.WriteByte(',')
		}
		if err := writeValue(b, item); err != nil {
			return fmt.Errorf("index %d: %w", i, err)
		}
	}
	b.WriteByte(']')
	return nil
}

// sortedKeys orders keys numerically when all of them are non-negative
// integers and bytewise otherwise.
func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	numeric := true
	for k := range m {
		keys = append(keys, k)
		if _, ok := indexKey(k); !ok {
			numeric = false
		}
	}
	if numeric {
		sort.Slice(keys, func(i, j int) bool {
			a, _ := indexKey(keys[i])
			b, _ := indexKey(keys[j])
			return a < b
		})
		return keys
	}
	sort.Strings(keys)
	return keys
}

// asList reports whether m is keyed exactly 0..n-1, which PHP encodes as a list.
func asList(m map[string]any) ([]any, bool) {
	if len(m) == 0 {
		return nil, false
	}
	list := make([]any, len(m))
	for k, v := range m {
		i, ok := indexKey(k)
		if !ok || i >= len(m) {
			return nil, false
		}
		list[i] = v
	}
	return list, true
}

func indexKey(k string) (int, bool) {
	if k == "" || (len(k) > 1 && k[0] == '0') {
		return 0, false
	}
	i, err := strconv.Atoi(k)
	if err != nil || i < 0 {
		return 0, false
	}
	return i, true
}

func leafString(v any) (string, error) {
	switch t := v.(type) {
	case nil:
		return "", nil
	case string:
		return t, nil
	case bool:
		if t {
			return "1", nil
		}
		return "", nil
	case json.Number:
		return t.String(), nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32), nil
	case int:
		return strconv.Itoa(t), nil
	case int64:
		return strconv.FormatInt(t, 10), nil
	case int32:
		return strconv.FormatInt(int64(t), 10), nil
	case uint:
		return strconv.FormatUint(uint64(t), 10), nil
	case uint64:
		return strconv.FormatUint(t, 10), nil
	case fmt.Stringer:
		return t.String(), nil
	default:
		return "", fmt.Errorf("unsupported value type %T", v)
	}
}

const hexDigits = "0123456789abcdef"

// writeString quotes s like json_encode: slashes escaped, non-ASCII kept verbatim.
func writeString(b *strings.Builder, s string) {
	b.WriteByte('"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '/':
			b.WriteString(`\/`)
		case '\b':
			b.WriteString(`\b`)
		case '\f':
			b.WriteString(`\f`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			if c < 0x20 {
				b.WriteString(`\u00`)
				b.WriteByte(hexDigits[c>>4])
				b.WriteByte(hexDigits[c&0xf])
				continue
			}
			b.WriteByte(c)
		}
	}
	b.WriteByte('"')
}
