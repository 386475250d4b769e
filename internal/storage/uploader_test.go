package storage

import (
	"context"
	"net/url"
	"strings"
	"testing"
	"time"
)

func TestNewUploaderValidatesConfig(t *testing.T) {
	valid := Config{
		Region:        "ru-central1",
		AccessKey:     "key",
		SecretKey:     "secret",
		Bucket:        "tryon",
		PublicBaseURL: "https://cdn.example.com/",
	}
	if _, err := NewUploader(valid); err != nil {
		t.Fatalf("NewUploader returned error: %v", err)
	}

	missing := []func(*Config){
		func(c *Config) { c.Bucket = "" },
		func(c *Config) { c.Region = "" },
		func(c *Config) { c.SecretKey = "" },
		func(c *Config) { c.PublicBaseURL = "" },
	}
	for i, mutate := range missing {
		cfg := valid
		mutate(&cfg)
		if _, err := NewUploader(cfg); err == nil {
			t.Fatalf("case %d: expected validation error", i)
		}
	}
}

func TestURLJoinsBaseAndKey(t *testing.T) {
	u, err := NewUploader(Config{Region: "us-east-1", AccessKey: "k", SecretKey: "s", Bucket: "b", PublicBaseURL: "https://cdn.example.com/"})
	if err != nil {
		t.Fatalf("NewUploader returned error: %v", err)
	}
	if got := u.URL("/results/job-1.png"); got != "https://cdn.example.com/results/job-1.png" {
		t.Fatalf("got %s", got)
	}
}

func TestPresignUploadSignsLocally(t *testing.T) {
	u, err := NewUploader(Config{
		Endpoint:      "https://storage.example.com",
		Region:        "us-east-1",
		AccessKey:     "AKIDEXAMPLE",
		SecretKey:     "secret",
		Bucket:        "tryon",
		PublicBaseURL: "https://cdn.example.com",
		UsePathStyle:  true,
	})
	if err != nil {
		t.Fatalf("NewUploader returned error: %v", err)
	}
	raw, err := u.PresignUpload(context.Background(), "uploads/u1/x-selfie.jpg", "image/jpeg", 5*time.Minute)
	if err != nil {
		t.Fatalf("PresignUpload returned error: %v", err)
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("presigned url does not parse: %v", err)
	}
	if parsed.Path != "/tryon/uploads/u1/x-selfie.jpg" {
		t.Fatalf("got path %s", parsed.Path)
	}
	if parsed.Query().Get("X-Amz-Expires") != "300" {
		t.Fatalf("got expiry %q, want 300", parsed.Query().Get("X-Amz-Expires"))
	}
}

func TestKeys(t *testing.T) {
	if got := ResultKey("job-1", "image/png"); got != "results/job-1.png" {
		t.Fatalf("got result key %s", got)
	}
	key := UploadKey("user-1", "../My Selfie.JPG")
	if !strings.HasPrefix(key, "uploads/user-1/") || !strings.HasSuffix(key, "-My_Selfie.JPG") {
		t.Fatalf("unexpected upload key %s", key)
	}
	if got := sanitizeFilename(".."); got != "image" {
		t.Fatalf("got %q for dot-only name", got)
	}
}
