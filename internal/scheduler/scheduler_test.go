package scheduler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/magellium/hrwsi/internal/errs"
)

func TestSubmitSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"EvalID":"eval-123"}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "token", srv.Client())
	id, err := c.Submit(context.Background(), []byte(`{}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "eval-123" {
		t.Fatalf("Submit() = %q, want eval-123", id)
	}
}

func TestSubmitPrefersDispatchedJobID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"EvalID":"eval-123","DispatchedJobID":"dispatch-456"}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "token", srv.Client())
	id, err := c.Submit(context.Background(), []byte(`{}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "dispatch-456" {
		t.Fatalf("Submit() = %q, want dispatch-456", id)
	}
}

func TestGetAllocationNotFoundIsAllocationLost(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "token", srv.Client())
	_, err := c.GetAllocation(context.Background(), "missing-id")
	if !errs.IsAllocationLost(err) {
		t.Fatalf("expected an allocation-lost error, got %v", err)
	}
}

func TestGetAllocationSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ID":"alloc-1","SubmitTime":1000,"ClientStatus":"running"}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "token", srv.Client())
	alloc, err := c.GetAllocation(context.Background(), "alloc-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if alloc.Status != StatusRunning {
		t.Fatalf("Status = %q, want running", alloc.Status)
	}
}

func TestNewDispatchIDIsNonEmpty(t *testing.T) {
	if NewDispatchID() == "" {
		t.Fatal("expected a non-empty dispatch id")
	}
	if NewDispatchID() == NewDispatchID() {
		t.Fatal("expected successive dispatch ids to differ")
	}
}
