package catalog

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/magellium/hrwsi/internal/errs"
)

func TestQuerySuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"items":[{"id":"p1","product_type_code":"S2_FSC_L2B"}]}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, srv.Client())
	items, err := c.Query(context.Background(), "S2_FSC_L2B", time.Now().Add(-time.Hour), time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 1 || items[0].ID != "p1" {
		t.Fatalf("unexpected items: %+v", items)
	}
}

func TestQueryUnrecoverableOn4xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, srv.Client())
	c.Attempts = 1
	_, err := c.Query(context.Background(), "S2_FSC_L2B", time.Now().Add(-time.Hour), time.Now())
	if err == nil {
		t.Fatal("expected an error for a 400 response")
	}
}

func TestQueryMalformedResponseIsDataShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, srv.Client())
	c.Attempts = 1
	_, err := c.Query(context.Background(), "S2_FSC_L2B", time.Now().Add(-time.Hour), time.Now())
	if !errs.IsDataShape(err) {
		t.Fatalf("expected a data-shape error for a malformed response, got %v", err)
	}
}
