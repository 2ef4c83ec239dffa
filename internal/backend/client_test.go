package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestSubmitSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/search" {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("bad body: %v", err)
		}
		if body["message"] != "find mints" || body["group_id"] != "g1" {
			t.Fatalf("unexpected payload: %v", body)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "task-1"})
	}))
	defer srv.Close()

	c := New(srv.URL)
	id, err := c.SubmitSearch(context.Background(), "find mints", "g1")
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if id != "task-1" {
		t.Fatalf("unexpected id: %q", id)
	}
}

func TestSearchStatusNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := New(srv.URL)
	_, err := c.SearchStatus(context.Background(), "gone")
	if !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound, got %v", err)
	}
}

func TestSearchStatusParsesResponse(t *testing.T) {
	started := time.Unix(1700000000, 0).UTC()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/search/task-9/status" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(StatusResponse{
			ID:        "task-9",
			Status:    "processing",
			Query:     "q",
			StartedAt: &started,
		})
	}))
	defer srv.Close()

	c := New(srv.URL)
	st, err := c.SearchStatus(context.Background(), "task-9")
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if st.Status != "processing" || st.StartedAt == nil || !st.StartedAt.Equal(started) {
		t.Fatalf("unexpected status: %+v", st)
	}
}

func TestTransportErrorIsTyped(t *testing.T) {
	c := New("http://127.0.0.1:1", WithHTTPClient(&http.Client{Timeout: 200 * time.Millisecond}))
	_, err := c.SearchStatus(context.Background(), "t")
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("expected ErrTransport, got %v", err)
	}
}

func TestServerErrorIsUnexpectedCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL)
	err := c.SaveSearch(context.Background(), SaveRequest{GroupID: "g1"})
	if !errors.Is(err, ErrUnexpectedCode) {
		t.Fatalf("expected ErrUnexpectedCode, got %v", err)
	}
}

func TestPendingSearches(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/search/pending" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode([]StatusResponse{
			{ID: "a", Status: "pending", Query: "q1"},
			{ID: "b", Status: "processing", Query: "q2"},
		})
	}))
	defer srv.Close()

	c := New(srv.URL)
	pending, err := c.PendingSearches(context.Background())
	if err != nil {
		t.Fatalf("pending failed: %v", err)
	}
	if len(pending) != 2 || pending[1].ID != "b" {
		t.Fatalf("unexpected pending set: %+v", pending)
	}
}
