package prodamus

import (
	"sort"
	"strconv"
	"strings"

	"github.com/digkill/tryon/internal/models"
)

// StatusSuccess is the payment_status of a captured payment.
const StatusSuccess = "success"

// ParseEvent extracts the fields the ledger needs from a verified notification.
// The user id travels in customer_extra, set when the payment link is built.
func ParseEvent(payload map[string]any) models.PaymentEvent {
	ev := models.PaymentEvent{
		UserID:    field(payload, "customer_extra"),
		PaymentID: field(payload, "order_id"),
		Status:    strings.ToLower(field(payload, "payment_status")),
		Amount:    field(payload, "sum"),
	}
	for _, p := range items(payload["products"]) {
		product := models.PaymentProduct{
			SKU:      strings.TrimSpace(field(p, "sku")),
			Quantity: 1,
		}
		if q := field(p, "quantity"); q != "" {
			n, err := strconv.Atoi(q)
			if err != nil {
				n = 0
			}
			product.Quantity = n
		}
		ev.Products = append(ev.Products, product)
	}
	return ev
}

func field(m map[string]any, key string) string {
	s, err := leafString(m[key])
	if err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}

// items accepts both a JSON array and a PHP style index map.
func items(v any) []map[string]any {
	var out []map[string]any
	switch t := v.(type) {
	case []any:
		for _, item := range t {
			if m, ok := item.(map[string]any); ok {
				out = append(out, m)
			}
		}
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool {
			a, aok := indexKey(keys[i])
			b, bok := indexKey(keys[j])
			if aok && bok {
				return a < b
			}
			return keys[i] < keys[j]
		})
		for _, k := range keys {
			if m, ok := t[k].(map[string]any); ok {
				out = append(out, m)
			}
		}
	}
	return out
}
