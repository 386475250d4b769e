package prodamus

import (
	"net/url"
	"strings"
	"testing"
)

const testSecret = "test-secret"

func samplePayload() map[string]any {
	return map[string]any{
		"sum":            "320",
		"payment_status": "success",
		"customer_extra": "u1",
	}
}

func TestCanonicalSortsKeys(t *testing.T) {
	got, err := Canonical(samplePayload())
	if err != nil {
		t.Fatalf("Canonical returned error: %v", err)
	}
	want := `{"customer_extra":"u1","payment_status":"success","sum":"320"}`
	if got != want {
		t.Fatalf("unexpected canonical form:\n got %s\nwant %s", got, want)
	}
}

func TestSignIsDeterministic(t *testing.T) {
	const want = "a3ef540ba4778b7704b9920f03ad7eae4e3a347bd2d1a1ee1782df72e647f8e9"
	for i := 0; i < 5; i++ {
		got, err := Sign(samplePayload(), testSecret)
		if err != nil {
			t.Fatalf("Sign returned error: %v", err)
		}
		if got != want {
			t.Fatalf("run %d: got signature %s, want %s", i, got, want)
		}
	}
}

func TestSignChangesWhenAnyValueChanges(t *testing.T) {
	base, err := Sign(samplePayload(), testSecret)
	if err != nil {
		t.Fatalf("Sign returned error: %v", err)
	}
	for key := range samplePayload() {
		mutated := samplePayload()
		mutated[key] = mutated[key].(string) + "x"
		sig, err := Sign(mutated, testSecret)
		if err != nil {
			t.Fatalf("Sign returned error: %v", err)
		}
		if sig == base {
			t.Fatalf("mutating %q did not change the signature", key)
		}
	}

	bumped := samplePayload()
	bumped["sum"] = "321"
	sig, _ := Sign(bumped, testSecret)
	if sig != "ea8927aea515281400cad09cc0283653d714073d54d4eadb62fe8e9b97c70b60" {
		t.Fatalf("unexpected signature for sum=321: %s", sig)
	}
}

func TestCanonicalEscapesSlashesAndStringifiesLeaves(t *testing.T) {
	payload := map[string]any{
		"url": "https://example.com/a/b",
		"nested": map[string]any{
			"z":    true,
			"a":    float64(12.5),
			"list": []any{1, "x/y", nil},
		},
		"quote": `say "hi"`,
		"ru":    "Оплата",
	}
	got, err := Canonical(payload)
	if err != nil {
		t.Fatalf("Canonical returned error: %v", err)
	}
	want := `{"nested":{"a":"12.5","list":["1","x\/y",""],"z":"1"},"quote":"say \"hi\"","ru":"Оплата","url":"https:\/\/example.com\/a\/b"}`
	if got != want {
		t.Fatalf("unexpected canonical form:\n got %s\nwant %s", got, want)
	}
}

func TestCanonicalTreatsSequentialIndexMapsAsLists(t *testing.T) {
	payload := map[string]any{
		"products": map[string]any{
			"1":  map[string]any{"sku": "starter"},
			"0":  map[string]any{"sku": "on_the_go"},
			"10": map[string]any{"sku": "x"},
		},
	}
	got, err := Canonical(payload)
	if err != nil {
		t.Fatalf("Canonical returned error: %v", err)
	}
	// Keys 0,1,10 are not contiguous, so this stays an object in numeric order.
	want := `{"products":{"0":{"sku":"on_the_go"},"1":{"sku":"starter"},"10":{"sku":"x"}}}`
	if got != want {
		t.Fatalf("unexpected canonical form:\n got %s\nwant %s", got, want)
	}

	delete(payload["products"].(map[string]any), "10")
	got, _ = Canonical(payload)
	want = `{"products":[{"sku":"on_the_go"},{"sku":"starter"}]}`
	if got != want {
		t.Fatalf("unexpected canonical form:\n got %s\nwant %s", got, want)
	}
}

func TestVerifyIgnoresHexCase(t *testing.T) {
	sig, err := Sign(samplePayload(), testSecret)
	if err != nil {
		t.Fatalf("Sign returned error: %v", err)
	}
	if !Verify(samplePayload(), testSecret, strings.ToUpper(sig)) {
		t.Fatal("expected upper-case signature to verify")
	}
	if Verify(samplePayload(), "other-secret", sig) {
		t.Fatal("expected signature with a different secret to fail")
	}
	if Verify(samplePayload(), testSecret, "") {
		t.Fatal("expected empty signature to fail")
	}
}

func TestCanonicalRejectsUnsupportedLeaf(t *testing.T) {
	if _, err := Canonical(map[string]any{"ch": make(chan int)}); err == nil {
		t.Fatal("expected error for channel leaf")
	}
}

func TestDecodeFormBuildsNestedPayload(t *testing.T) {
	values := url.Values{}
	values.Set("order_id", "1001")
	values.Set("sum", "800.00")
	values.Set("customer_extra", "user-1")
	values.Set("products[0][sku]", "starter")
	values.Set("products[0][quantity]", "1")
	values.Set("products[1][sku]", "on_the_go")
	values.Add("tags[]", "a")
	values.Add("tags[]", "b")
	values.Set("broken[", "raw")

	payload := DecodeForm(values)
	got, err := Canonical(payload)
	if err != nil {
		t.Fatalf("Canonical returned error: %v", err)
	}
	want := `{"broken[":"raw","customer_extra":"user-1","order_id":"1001","products":[{"quantity":"1","sku":"starter"},{"sku":"on_the_go"}],"sum":"800.00","tags":["a","b"]}`
	if got != want {
		t.Fatalf("unexpected decoded payload:\n got %s\nwant %s", got, want)
	}
}
