// Package catalog is the HRWSI client for the upstream product
// catalog, the one external collaborator specified only by interface
// (spec.md §1, "Out of scope"): given a time window, it returns
// candidate products for the Harvester to record. The bounded
// exponential-backoff retry around every call is grounded on
// aws-karpenter-provider-aws's use of github.com/avast/retry-go for
// transient AWS API failures — the same shape applies to a flaky HTTP
// catalog endpoint.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/avast/retry-go"
	"github.com/pkg/errors"

	"github.com/magellium/hrwsi/internal/errs"
)

// Item is one candidate product returned by the catalog: just enough
// for the Harvester to decide whether it is new and, if so, hand its
// identifier to internal/idparse.
type Item struct {
	ID               string    `json:"id"`
	ProductTypeCode  string    `json:"product_type_code"`
	ProductPath      string    `json:"product_path"`
	CreationDate     time.Time `json:"creation_date"`
	CatalogueDate    time.Time `json:"catalogue_date"`
	KPIFilePath      string    `json:"kpi_file_path"`
	IsPartial        bool      `json:"is_partial"`
}

// Client queries the upstream catalog for candidate items. Production
// code uses NewHTTPClient; tests substitute a fake.
type Client interface {
	// Query returns every item of productTypeCode catalogued in
	// [start, end).
	Query(ctx context.Context, productTypeCode string, start, end time.Time) ([]Item, error)
}

// HTTPClient is the production Client, backed by a REST endpoint.
type HTTPClient struct {
	BaseURL    string
	HTTPClient *http.Client
	Attempts   uint
}

// NewHTTPClient builds a catalog client bound to baseURL. A nil
// httpClient defaults to a client with a generous timeout, since
// catalog windows can return large candidate sets.
func NewHTTPClient(baseURL string, httpClient *http.Client) *HTTPClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPClient{BaseURL: baseURL, HTTPClient: httpClient, Attempts: 5}
}

type queryResponse struct {
	Items []Item `json:"items"`
}

// Query implements Client. Transport failures and 5xx responses are
// retried with exponential backoff up to c.Attempts times; a
// successful-but-malformed response is a DataShape error, not retried.
func (c *HTTPClient) Query(ctx context.Context, productTypeCode string, start, end time.Time) ([]Item, error) {
	url := fmt.Sprintf("%s/products?type=%s&start=%s&end=%s",
		c.BaseURL, productTypeCode, start.Format(time.RFC3339), end.Format(time.RFC3339))

	var items []Item
	err := retry.Do(
		func() error {
			req, reqErr := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if reqErr != nil {
				return retry.Unrecoverable(errors.Wrap(reqErr, "could not build catalog request"))
			}
			resp, doErr := c.HTTPClient.Do(req)
			if doErr != nil {
				return errs.WrapTransient(doErr, "catalog request failed")
			}
			defer resp.Body.Close()

			if resp.StatusCode >= 500 {
				return errs.WrapTransient(
					errors.Errorf("catalog returned status %d", resp.StatusCode),
					"catalog transient failure")
			}
			if resp.StatusCode != http.StatusOK {
				body, _ := io.ReadAll(resp.Body)
				return retry.Unrecoverable(
					errors.Errorf("catalog returned status %d: %s", resp.StatusCode, string(body)))
			}

			var out queryResponse
			if decErr := json.NewDecoder(resp.Body).Decode(&out); decErr != nil {
				return retry.Unrecoverable(errs.WrapDataShape(decErr, "could not decode catalog response"))
			}
			items = out.Items
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(c.Attempts),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, err
	}
	return items, nil
}
