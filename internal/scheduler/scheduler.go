// Package scheduler is the HRWSI client for the cluster scheduler, the
// second external collaborator specified only by interface (spec.md
// §1): accepts a job specification, returns an allocation identifier,
// and exposes submission time and allocation status. The shape
// (submit/getAllocation/listAllocations, nanosecond timestamps) is
// Nomad's, per the NOMAD_HOST/NOMAD_PORT/NOMAD_TOKEN configuration in
// spec.md §6. Transient transport errors are retried with
// github.com/avast/retry-go, the same policy as internal/catalog.
package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/avast/retry-go"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/magellium/hrwsi/internal/errs"
)

// AllocationStatus mirrors the coarse status vocabulary a Nomad-shaped
// scheduler reports for a dispatched job.
type AllocationStatus string

const (
	StatusPending AllocationStatus = "pending"
	StatusRunning AllocationStatus = "running"
	StatusComplete AllocationStatus = "complete"
	StatusFailed  AllocationStatus = "failed"
	StatusLost    AllocationStatus = "lost"
)

// Allocation is the scheduler's view of one dispatched job.
type Allocation struct {
	ID             string
	SubmitTimeNS   int64
	Status         AllocationStatus
	LogPath        string
}

// Client is the scheduler interface the Launcher depends on.
type Client interface {
	// Submit dispatches jobSpec (the rendered job specification, see
	// internal/jobspec) and returns the new allocation's identifier.
	Submit(ctx context.Context, jobSpec []byte) (allocationID string, err error)
	// GetAllocation fetches the current status of one allocation.
	GetAllocation(ctx context.Context, allocationID string) (Allocation, error)
	// ListAllocations lists every allocation the scheduler currently
	// tracks for this job group. The lost-job sweeper does not call it;
	// it checks each dispatch with GetAllocation.
	ListAllocations(ctx context.Context, jobGroup string) ([]Allocation, error)
}

// HTTPClient is the production Client, backed by the scheduler's REST
// API (Nomad's /v1/jobs, /v1/allocation/:id, /v1/job/:id/allocations).
type HTTPClient struct {
	Addr       string
	Token      string
	HTTPClient *http.Client
	Attempts   uint
}

// NewHTTPClient builds a scheduler client bound to addr, authenticating
// with token (NOMAD_TOKEN).
func NewHTTPClient(addr, token string, httpClient *http.Client) *HTTPClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &HTTPClient{Addr: addr, Token: token, HTTPClient: httpClient, Attempts: 5}
}

func (c *HTTPClient) newRequest(ctx context.Context, method, path string, body []byte) (*http.Request, error) {
	var rdr *bytes.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.Addr+path, rdr)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Nomad-Token", c.Token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

type submitResponse struct {
	EvalID string `json:"EvalID"`
	// DispatchedJobID is populated for Nomad's job-dispatch endpoint;
	// fall back to EvalID when empty.
	DispatchedJobID string `json:"DispatchedJobID"`
}

// Submit implements Client.
func (c *HTTPClient) Submit(ctx context.Context, jobSpec []byte) (string, error) {
	var allocationID string
	err := retry.Do(
		func() error {
			req, reqErr := c.newRequest(ctx, http.MethodPost, "/v1/jobs", jobSpec)
			if reqErr != nil {
				return retry.Unrecoverable(errors.Wrap(reqErr, "could not build submit request"))
			}
			resp, doErr := c.HTTPClient.Do(req)
			if doErr != nil {
				return errs.WrapTransient(doErr, "scheduler submit failed")
			}
			defer resp.Body.Close()

			if resp.StatusCode >= 500 {
				return errs.WrapTransient(
					errors.Errorf("scheduler returned status %d", resp.StatusCode),
					"scheduler transient failure")
			}
			if resp.StatusCode != http.StatusOK {
				return retry.Unrecoverable(errors.Errorf("scheduler rejected submission, status %d", resp.StatusCode))
			}

			var out submitResponse
			if decErr := json.NewDecoder(resp.Body).Decode(&out); decErr != nil {
				return retry.Unrecoverable(errs.WrapDataShape(decErr, "could not decode submit response"))
			}
			if out.DispatchedJobID != "" {
				allocationID = out.DispatchedJobID
			} else if out.EvalID != "" {
				allocationID = out.EvalID
			} else {
				return retry.Unrecoverable(errors.New("scheduler submit response carried no identifier"))
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(c.Attempts),
		retry.DelayType(retry.BackOffDelay),
	)
	if err != nil {
		return "", err
	}
	return allocationID, nil
}

type allocationResponse struct {
	ID           string `json:"ID"`
	SubmitTime   int64  `json:"SubmitTime"`
	ClientStatus string `json:"ClientStatus"`
}

func (a allocationResponse) toAllocation() Allocation {
	return Allocation{
		ID:           a.ID,
		SubmitTimeNS: a.SubmitTime,
		Status:       AllocationStatus(a.ClientStatus),
	}
}

// GetAllocation implements Client.
func (c *HTTPClient) GetAllocation(ctx context.Context, allocationID string) (Allocation, error) {
	var alloc Allocation
	err := retry.Do(
		func() error {
			req, reqErr := c.newRequest(ctx, http.MethodGet, "/v1/allocation/"+allocationID, nil)
			if reqErr != nil {
				return retry.Unrecoverable(errors.Wrap(reqErr, "could not build allocation request"))
			}
			resp, doErr := c.HTTPClient.Do(req)
			if doErr != nil {
				return errs.WrapTransient(doErr, "scheduler allocation fetch failed")
			}
			defer resp.Body.Close()

			if resp.StatusCode == http.StatusNotFound {
				return retry.Unrecoverable(errs.NewAllocationLost(fmt.Sprintf("allocation %s not found", allocationID)))
			}
			if resp.StatusCode >= 500 {
				return errs.WrapTransient(
					errors.Errorf("scheduler returned status %d", resp.StatusCode),
					"scheduler transient failure")
			}
			if resp.StatusCode != http.StatusOK {
				return retry.Unrecoverable(errors.Errorf("unexpected status %d fetching allocation", resp.StatusCode))
			}

			var out allocationResponse
			if decErr := json.NewDecoder(resp.Body).Decode(&out); decErr != nil {
				return retry.Unrecoverable(errs.WrapDataShape(decErr, "could not decode allocation response"))
			}
			alloc = out.toAllocation()
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(c.Attempts),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return Allocation{}, err
	}
	return alloc, nil
}

// ListAllocations implements Client.
func (c *HTTPClient) ListAllocations(ctx context.Context, jobGroup string) ([]Allocation, error) {
	var allocations []Allocation
	err := retry.Do(
		func() error {
			req, reqErr := c.newRequest(ctx, http.MethodGet, "/v1/job/"+jobGroup+"/allocations", nil)
			if reqErr != nil {
				return retry.Unrecoverable(errors.Wrap(reqErr, "could not build allocations list request"))
			}
			resp, doErr := c.HTTPClient.Do(req)
			if doErr != nil {
				return errs.WrapTransient(doErr, "scheduler allocations list failed")
			}
			defer resp.Body.Close()

			if resp.StatusCode >= 500 {
				return errs.WrapTransient(
					errors.Errorf("scheduler returned status %d", resp.StatusCode),
					"scheduler transient failure")
			}
			if resp.StatusCode != http.StatusOK {
				return retry.Unrecoverable(errors.Errorf("unexpected status %d listing allocations", resp.StatusCode))
			}

			var out []allocationResponse
			if decErr := json.NewDecoder(resp.Body).Decode(&out); decErr != nil {
				return retry.Unrecoverable(errs.WrapDataShape(decErr, "could not decode allocations list response"))
			}
			allocations = make([]Allocation, len(out))
			for i, a := range out {
				allocations[i] = a.toAllocation()
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(c.Attempts),
		retry.DelayType(retry.BackOffDelay),
	)
	if err != nil {
		return nil, err
	}
	return allocations, nil
}

// NewDispatchID generates a scheduler-shaped dispatch identifier for
// tests and for stub clients; production dispatch IDs come from the
// real scheduler's response.
func NewDispatchID() string {
	return uuid.NewString()
}
