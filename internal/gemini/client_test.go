package gemini

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

var pngBytes = []byte("\x89PNG\r\n\x1a\nfake-image-body")

type apiStub struct {
	calls     atomic.Int32
	responses []func(w http.ResponseWriter)
	lastBody  generateRequest
	lastKey   string
}

func newTestServer(t *testing.T, stub *apiStub) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/item.png", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(pngBytes)
	})
	mux.HandleFunc("/selfie.jpg", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg; charset=binary")
		_, _ = w.Write([]byte("jpeg-bytes"))
	})
	mux.HandleFunc("/missing.png", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	mux.HandleFunc("/v1beta/models/test-model:generateContent", func(w http.ResponseWriter, r *http.Request) {
		n := int(stub.calls.Add(1))
		stub.lastKey = r.Header.Get("x-goog-api-key")
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &stub.lastBody)
		idx := n - 1
		if idx >= len(stub.responses) {
			idx = len(stub.responses) - 1
		}
		stub.responses[idx](w)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func unavailable(w http.ResponseWriter) {
	http.Error(w, `{"error":{"code":503,"status":"UNAVAILABLE"}}`, http.StatusServiceUnavailable)
}

func success(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"here you go"},{"inlineData":{"mimeType":"image/png","data":"` +
		base64.StdEncoding.EncodeToString([]byte("result-image")) + `"}}]},"finishReason":"STOP"}]}`))
}

func newTestClient(srv *httptest.Server, sleeps *[]time.Duration) *Client {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewClient(Config{
		APIKey:         "test-key",
		BaseURL:        srv.URL,
		Model:          "test-model",
		Prompt:         "try it on",
		MaxAttempts:    5,
		BackoffInitial: time.Second,
	}, log, WithHTTPClient(srv.Client()), WithSleep(func(_ context.Context, d time.Duration) error {
		*sleeps = append(*sleeps, d)
		return nil
	}))
}

func TestGenerateRetriesUnavailableThenSucceeds(t *testing.T) {
	stub := &apiStub{responses: []func(http.ResponseWriter){unavailable, unavailable, success}}
	srv := newTestServer(t, stub)
	var sleeps []time.Duration
	client := newTestClient(srv, &sleeps)

	img, err := client.Generate(context.Background(), srv.URL+"/item.png", srv.URL+"/selfie.jpg")
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	if string(img.Bytes) != "result-image" || img.Mime != "image/png" {
		t.Fatalf("unexpected image: %q (%s)", img.Bytes, img.Mime)
	}
	if got := stub.calls.Load(); got != 3 {
		t.Fatalf("got %d API calls, want 3", got)
	}
	want := []time.Duration{time.Second, 2 * time.Second}
	if len(sleeps) != len(want) || sleeps[0] != want[0] || sleeps[1] != want[1] {
		t.Fatalf("got backoff %v, want %v", sleeps, want)
	}
	if stub.lastKey != "test-key" {
		t.Fatalf("api key header not sent, got %q", stub.lastKey)
	}
	parts := stub.lastBody.Contents[0].Parts
	if len(parts) != 3 || parts[1].InlineData == nil || parts[2].InlineData == nil {
		t.Fatalf("expected prompt plus two inline images, got %+v", parts)
	}
	if parts[2].InlineData.MimeType != "image/jpeg" {
		t.Fatalf("got selfie mime %q, want image/jpeg", parts[2].InlineData.MimeType)
	}
}

func TestGenerateGivesUpAfterMaxAttempts(t *testing.T) {
	stub := &apiStub{responses: []func(http.ResponseWriter){unavailable}}
	srv := newTestServer(t, stub)
	var sleeps []time.Duration
	client := newTestClient(srv, &sleeps)

	_, err := client.Generate(context.Background(), srv.URL+"/item.png", srv.URL+"/selfie.jpg")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("got error %v, want ErrUnavailable", err)
	}
	if got := stub.calls.Load(); got != 5 {
		t.Fatalf("got %d API calls, want 5", got)
	}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second}
	if len(sleeps) != len(want) {
		t.Fatalf("got backoff %v, want %v", sleeps, want)
	}
	for i := range want {
		if sleeps[i] != want[i] {
			t.Fatalf("got backoff %v, want %v", sleeps, want)
		}
	}
}

func TestGenerateDoesNotRetryOtherErrors(t *testing.T) {
	stub := &apiStub{responses: []func(http.ResponseWriter){func(w http.ResponseWriter) {
		http.Error(w, `{"error":{"code":400}}`, http.StatusBadRequest)
	}}}
	srv := newTestServer(t, stub)
	var sleeps []time.Duration
	client := newTestClient(srv, &sleeps)

	_, err := client.Generate(context.Background(), srv.URL+"/item.png", srv.URL+"/selfie.jpg")
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("got error %v, want ErrRejected", err)
	}
	if got := stub.calls.Load(); got != 1 {
		t.Fatalf("got %d API calls, want 1", got)
	}
	if len(sleeps) != 0 {
		t.Fatalf("expected no backoff, got %v", sleeps)
	}
}

func TestGenerateReportsMissingImage(t *testing.T) {
	cases := map[string]string{
		"no candidates": `{"candidates":[]}`,
		"text only":     `{"candidates":[{"content":{"parts":[{"text":"sorry"}]},"finishReason":"SAFETY"}]}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			body := body
			stub := &apiStub{responses: []func(http.ResponseWriter){func(w http.ResponseWriter) {
				_, _ = w.Write([]byte(body))
			}}}
			srv := newTestServer(t, stub)
			var sleeps []time.Duration
			client := newTestClient(srv, &sleeps)

			_, err := client.Generate(context.Background(), srv.URL+"/item.png", srv.URL+"/selfie.jpg")
			if !errors.Is(err, ErrNoImage) {
				t.Fatalf("got error %v, want ErrNoImage", err)
			}
			if errors.Is(err, ErrTransport) || errors.Is(err, ErrRejected) {
				t.Fatalf("no-image error must stay distinct, got %v", err)
			}
		})
	}
}

func TestGenerateFailsFastOnFetchError(t *testing.T) {
	stub := &apiStub{responses: []func(http.ResponseWriter){success}}
	srv := newTestServer(t, stub)
	var sleeps []time.Duration
	client := newTestClient(srv, &sleeps)

	_, err := client.Generate(context.Background(), srv.URL+"/missing.png", srv.URL+"/selfie.jpg")
	if !errors.Is(err, ErrFetch) {
		t.Fatalf("got error %v, want ErrFetch", err)
	}
	if got := stub.calls.Load(); got != 0 {
		t.Fatalf("API must not be called when a source fails to download, got %d calls", got)
	}
}

func TestGenerateStopsWhenContextCancelledDuringBackoff(t *testing.T) {
	stub := &apiStub{responses: []func(http.ResponseWriter){unavailable}}
	srv := newTestServer(t, stub)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	client := NewClient(Config{BaseURL: srv.URL, Model: "test-model", BackoffInitial: time.Hour}, log, WithHTTPClient(srv.Client()))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := client.Generate(ctx, srv.URL+"/item.png", srv.URL+"/selfie.jpg")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("got error %v, want context.DeadlineExceeded", err)
	}
}
