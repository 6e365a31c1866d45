// Client telemetry records and their wire parsing
package metrics

import (
	"bufio"
	"io"
	"strconv"
	"strings"
)

// Request statuses reported by the load client.
const (
	StatusOK      = "ok"
	StatusErrHTTP = "err_http"
	StatusErrExc  = "err_exc"
)

// Record is one client request attempt, parsed from a telemetry line.
// RecvTS and RTTms are nil for failed attempts.
type Record struct {
	Client string
	Seq    int
	SendTS float64
	RecvTS *float64
	RTTms  *float64
	Status string
}

// OK reports whether the attempt succeeded.
func (r Record) OK() bool { return r.Status == StatusOK }

// linePrefix marks telemetry lines in the client's stdout.
const linePrefix = "CSV:"

// ParseLine parses one telemetry line of the form
// CSV:<seq>,<send_ts>,<recv_ts>,<rtt_ms>,<status>. Lines without the
// prefix or with a malformed payload are reported as not ok.
func ParseLine(client, line string) (Record, bool) {
	payload, found := strings.CutPrefix(strings.TrimSpace(line), linePrefix)
	if !found {
		return Record{}, false
	}
	fields := strings.Split(strings.TrimSpace(payload), ",")
	if len(fields) != 5 {
		return Record{}, false
	}
	seq, err := strconv.Atoi(fields[0])
	if err != nil {
		return Record{}, false
	}
	sendTS, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return Record{}, false
	}
	rec := Record{Client: client, Seq: seq, SendTS: sendTS, Status: fields[4]}
	if fields[2] != "" {
		if v, err := strconv.ParseFloat(fields[2], 64); err == nil {
			rec.RecvTS = &v
		}
	}
	if fields[3] != "" {
		if v, err := strconv.ParseFloat(fields[3], 64); err == nil {
			rec.RTTms = &v
		}
	}
	return rec, true
}

// ParseLines reads client output line by line and returns all telemetry
// records, skipping anything that is not a well-formed CSV line.
func ParseLines(client string, r io.Reader) ([]Record, error) {
	var records []Record
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		if rec, ok := ParseLine(client, sc.Text()); ok {
			records = append(records, rec)
		}
	}
	return records, sc.Err()
}
