package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestFetchStatus_DecodesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/status" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"cameras":1,"viewers":2,"timestamp":1700000000000}`))
	}))
	defer srv.Close()

	status, err := NewClient(srv.URL + "/status").FetchStatus(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status.Cameras != 1 || status.Viewers != 2 || status.Timestamp != 1700000000000 {
		t.Errorf("unexpected status %+v", status)
	}
}

func TestFetchStatus_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	if _, err := NewClient(srv.URL).FetchStatus(context.Background()); err == nil {
		t.Error("expected error for 500 response")
	}
}

func TestFetchStatus_BadJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer srv.Close()

	if _, err := NewClient(srv.URL).FetchStatus(context.Background()); err == nil {
		t.Error("expected error for malformed body")
	}
}
