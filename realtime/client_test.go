package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGetDecodesSubtree(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/signalements.json" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"-Na1":{"description":"pothole"},"-Na2":{"description":"crack"}}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "")

	var out map[string]map[string]string
	if err := client.Get(context.Background(), "signalements", &out); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(out) != 2 {
		t.Errorf("expected 2 children, got %d", len(out))
	}
	if out["-Na1"]["description"] != "pothole" {
		t.Errorf("unexpected child payload: %v", out["-Na1"])
	}
}

func TestGetMissingSubtreeLeavesZeroValue(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`null`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "")

	var out map[string]interface{}
	if err := client.Get(context.Background(), "signalements", &out); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if out != nil {
		t.Errorf("expected nil map for missing subtree, got %v", out)
	}
}

func TestPushReturnsGeneratedKey(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		var body map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("failed to decode push body: %v", err)
		}
		w.Write([]byte(`{"name":"-NaGeneratedKey"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "")

	key, err := client.Push(context.Background(), "signalements", map[string]string{"description": "pothole"})
	if err != nil {
		t.Fatalf("Push failed: %v", err)
	}
	if key != "-NaGeneratedKey" {
		t.Errorf("expected generated key, got %q", key)
	}
}

func TestSetIfMatchConflict(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("if-match") != "stale-etag" {
			t.Errorf("missing if-match header")
		}
		w.WriteHeader(http.StatusPreconditionFailed)
	}))
	defer server.Close()

	client := NewClient(server.URL, "")

	err := client.SetIfMatch(context.Background(), "sync/lease", "stale-etag", map[string]string{"owner": "x"})
	if !errors.Is(err, ErrPreconditionFailed) {
		t.Errorf("expected ErrPreconditionFailed, got %v", err)
	}
}

func TestGetWithETagReturnsETag(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Firebase-ETag") != "true" {
			t.Errorf("missing X-Firebase-ETag header")
		}
		w.Header().Set("ETag", "abc123")
		w.Write([]byte(`null`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "")

	var out interface{}
	etag, err := client.GetWithETag(context.Background(), "sync/lease", &out)
	if err != nil {
		t.Fatalf("GetWithETag failed: %v", err)
	}
	if etag != "abc123" {
		t.Errorf("expected etag abc123, got %q", etag)
	}
}

func TestUnreachableStore(t *testing.T) {
	// Closed server: connection refused.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	client := NewClient(server.URL, "")

	var out interface{}
	err := client.Get(context.Background(), "signalements", &out)
	if !errors.Is(err, ErrUnreachable) {
		t.Errorf("expected ErrUnreachable, got %v", err)
	}
}

func TestAuthSecretAppended(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("auth") != "s3cret" {
			t.Errorf("expected auth query param, got %q", r.URL.RawQuery)
		}
		w.Write([]byte(`null`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "s3cret")

	var out interface{}
	if err := client.Get(context.Background(), "signalements", &out); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
}
