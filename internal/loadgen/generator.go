// Load generator issuing paced ingest requests and telemetry lines
package loadgen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Generator sends ingest requests to the service alias at a fixed rate
// and prints one telemetry line per attempt. The line format is consumed
// by the metrics collector:
//
//	CSV:<seq>,<send_ts>,<recv_ts>,<rtt_ms>,<status>
type Generator struct {
	BaseURL      string
	ClientID     string
	RateHz       float64
	PayloadBytes int
	Timeout      time.Duration
	Out          io.Writer

	client *http.Client
}

// New builds a generator with sane fallbacks for rate and timeout.
func New(baseURL, clientID string, rateHz float64, payloadBytes int, timeout time.Duration, out io.Writer) *Generator {
	if rateHz < 0.1 {
		rateHz = 0.1
	}
	if timeout <= 0 {
		timeout = 800 * time.Millisecond
	}
	return &Generator{
		BaseURL:      strings.TrimRight(baseURL, "/"),
		ClientID:     clientID,
		RateHz:       rateHz,
		PayloadBytes: payloadBytes,
		Timeout:      timeout,
		Out:          out,
		client:       &http.Client{Timeout: timeout},
	}
}

type ingestPayload struct {
	Seq  int     `json:"seq"`
	TS   float64 `json:"ts"`
	Size int     `json:"size"`
	Blob string  `json:"blob"`
}

// Run issues requests until the context is cancelled. Pacing accumulates
// deadlines instead of sleeping a fixed period, so slow requests do not
// skew the configured rate.
func (g *Generator) Run(ctx context.Context) error {
	period := time.Duration(float64(time.Second) / g.RateHz)
	blob := strings.Repeat("x", g.PayloadBytes)

	seq := 0
	next := time.Now()
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		seq++
		g.attempt(ctx, seq, blob)

		next = next.Add(period)
		if wait := time.Until(next); wait > 0 {
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func (g *Generator) attempt(ctx context.Context, seq int, blob string) {
	sendWall := wallTS()
	sendMono := time.Now()

	payload, _ := json.Marshal(ingestPayload{Seq: seq, TS: sendWall, Size: g.PayloadBytes, Blob: blob})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.BaseURL+"/ingest", bytes.NewReader(payload))
	if err != nil {
		fmt.Fprintf(g.Out, "CSV:%d,%.6f,,,%s\n", seq, sendWall, "err_exc")
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		fmt.Fprintf(g.Out, "CSV:%d,%.6f,,,%s\n", seq, sendWall, "err_exc")
		return
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(g.Out, "CSV:%d,%.6f,,,%s\n", seq, sendWall, "err_http")
		return
	}
	rttMS := float64(time.Since(sendMono)) / float64(time.Millisecond)
	fmt.Fprintf(g.Out, "CSV:%d,%.6f,%.6f,%.3f,%s\n", seq, sendWall, wallTS(), rttMS, "ok")
}

func wallTS() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}
