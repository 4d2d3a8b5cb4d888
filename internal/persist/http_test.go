package persist

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPStorePersist(t *testing.T) {
	var got persistRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/persist" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("unexpected content type: %s", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("failed to decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	store := NewHTTPStore(server.URL, nil)
	err := store.Persist(context.Background(), "p1", "src/main.js", "console.log(1)", EventModified)
	if err != nil {
		t.Fatalf("Persist() failed: %v", err)
	}

	want := persistRequest{
		ProjectID: "p1",
		Path:      "src/main.js",
		Content:   "console.log(1)",
		Event:     EventModified,
	}
	if got != want {
		t.Errorf("persist body = %+v, want %+v", got, want)
	}
}

// TestHTTPStoreNon200 verifies that any status other than 200 is an error.
func TestHTTPStoreNon200(t *testing.T) {
	for _, status := range []int{http.StatusCreated, http.StatusBadRequest, http.StatusInternalServerError} {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))

		store := NewHTTPStore(server.URL, nil)
		err := store.Persist(context.Background(), "p1", "a.js", "x", EventModified)
		if err == nil {
			t.Errorf("Persist() with status %d should fail", status)
		}
		server.Close()
	}
}

func TestHTTPStoreUnreachable(t *testing.T) {
	store := NewHTTPStore("http://127.0.0.1:1", nil)
	err := store.Persist(context.Background(), "p1", "a.js", "x", EventDeleted)
	if err == nil {
		t.Error("Persist() against unreachable service should fail")
	}
}
