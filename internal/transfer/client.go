// HTTP state transfer client used by the migration strategies
package transfer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/juju/clock"
	"github.com/juju/retry"

	"migbench/internal/state"
)

const (
	defaultTimeout = 3 * time.Second
	retryAttempts  = 2
	retryDelay     = 250 * time.Millisecond
)

// Client performs the HTTP state operations the migration protocol needs.
// Every call is bounded by the request timeout and retried once with
// backoff on transient transport errors. The client keeps no state between
// calls.
type Client struct {
	http  *http.Client
	clock clock.Clock
}

// New returns a Client with the given request timeout. A zero timeout
// selects the default of 3s.
func New(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		http:  &http.Client{Timeout: timeout},
		clock: clock.WallClock,
	}
}

// PullResult reports the outcome of a destination-side pull.
type PullResult struct {
	Imported       bool `json:"imported"`
	StateSizeBytes int  `json:"state_size_bytes"`
	SourceCounter  int  `json:"source_counter"`
	DestCounter    int  `json:"dest_counter"`
}

// Health probes the replica's liveness endpoint.
func (c *Client) Health(ctx context.Context, baseURL string) error {
	var body struct {
		OK bool `json:"ok"`
	}
	if err := c.getJSON(ctx, "health", baseURL+"/health", &body); err != nil {
		return err
	}
	if !body.OK {
		return protocolErr("health", baseURL, fmt.Errorf("replica reported not ok"))
	}
	return nil
}

// FetchState GETs the full snapshot from a replica.
func (c *Client) FetchState(ctx context.Context, baseURL string) (state.Snapshot, error) {
	snap := state.New("")
	if err := c.getJSON(ctx, "fetch_state", baseURL+"/state", &snap); err != nil {
		return state.Snapshot{}, err
	}
	return snap, nil
}

// FetchStateMeta GETs counter metadata without the blob payload, used to
// mark a consistency point without paying the full transfer cost. Missing
// fields default to neutral identity values (counter 0, last_seq -1).
func (c *Client) FetchStateMeta(ctx context.Context, baseURL string) (state.Meta, error) {
	meta := state.Meta{LastSeq: -1}
	if err := c.getJSON(ctx, "fetch_state_meta", baseURL+"/state_meta", &meta); err != nil {
		return state.Meta{}, err
	}
	return meta, nil
}

// PushState POSTs a snapshot to a replica, which merges it monotonically.
// It returns the payload byte size actually sent, for size accounting.
// Only blob chunk bytes count, matching the destination-side accounting
// of PullStateFromPeer.
func (c *Client) PushState(ctx context.Context, baseURL string, snap state.Snapshot) (int, error) {
	payload, err := json.Marshal(snap)
	if err != nil {
		return 0, protocolErr("push_state", baseURL, err)
	}
	var body struct {
		Imported bool `json:"imported"`
	}
	if err := c.postJSON(ctx, "push_state", baseURL+"/state", payload, &body); err != nil {
		return 0, err
	}
	if !body.Imported {
		return 0, protocolErr("push_state", baseURL, fmt.Errorf("replica did not import snapshot"))
	}
	return snap.BlobBytes(), nil
}

// PullStateFromPeer instructs the destination replica to pull state
// directly from sourceURL, optionally filtered to blob entries with
// counter index in (minExclusive, maxInclusive]. sourceURL must be
// reachable from the destination, not from the orchestrator.
func (c *Client) PullStateFromPeer(ctx context.Context, destURL, sourceURL string, minExclusive, maxInclusive *int) (PullResult, error) {
	req := struct {
		SourceURL           string `json:"source_url"`
		MinCounterExclusive *int   `json:"min_counter_exclusive,omitempty"`
		MaxCounterInclusive *int   `json:"max_counter_inclusive,omitempty"`
	}{sourceURL, minExclusive, maxInclusive}
	payload, err := json.Marshal(req)
	if err != nil {
		return PullResult{}, protocolErr("pull_state", destURL, err)
	}
	var res PullResult
	if err := c.postJSON(ctx, "pull_state", destURL+"/pull_state", payload, &res); err != nil {
		return PullResult{}, err
	}
	if !res.Imported {
		return PullResult{}, protocolErr("pull_state", destURL, fmt.Errorf("destination did not import"))
	}
	return res, nil
}

func (c *Client) getJSON(ctx context.Context, op, url string, out any) error {
	return c.do(ctx, op, url, func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	}, out)
}

func (c *Client) postJSON(ctx context.Context, op, url string, payload []byte, out any) error {
	return c.do(ctx, op, url, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	}, out)
}

// do runs one HTTP exchange with a single bounded retry on transport
// errors. Protocol failures are fatal immediately.
func (c *Client) do(ctx context.Context, op, url string, build func() (*http.Request, error), out any) error {
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			req, err := build()
			if err != nil {
				return protocolErr(op, url, err)
			}
			resp, err := c.http.Do(req)
			if err != nil {
				return transportErr(op, url, err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
				return transportErr(op, url, fmt.Errorf("status %s: %s", resp.Status, bytes.TrimSpace(body)))
			}
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return protocolErr(op, url, err)
			}
			return nil
		},
		IsFatalError: func(err error) bool {
			if f, ok := err.(*Failure); ok {
				return f.Kind == ProtocolFailure
			}
			return ctx.Err() != nil
		},
		Attempts:    retryAttempts,
		Delay:       retryDelay,
		BackoffFunc: retry.DoubleDelay,
		Clock:       c.clock,
		Stop:        ctx.Done(),
	})
	if err == nil {
		return nil
	}
	if f, ok := retry.LastError(err).(*Failure); ok {
		return f
	}
	if f, ok := err.(*Failure); ok {
		return f
	}
	return transportErr(op, url, err)
}
