package transfer

import "fmt"

// FailureKind classifies transfer failures.
type FailureKind string

const (
	// TransportFailure covers connection errors, timeouts and non-2xx
	// responses. Retried once with backoff before surfacing.
	TransportFailure FailureKind = "transport"
	// ProtocolFailure covers malformed or missing response fields that
	// could not be defaulted safely.
	ProtocolFailure FailureKind = "protocol"
)

// Failure is the typed error returned by transfer operations. Strategies
// propagate it explicitly instead of relying on panics or suppression.
type Failure struct {
	Kind FailureKind
	Op   string
	URL  string
	Err  error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s %s (%s): %v", f.Op, f.URL, f.Kind, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

func transportErr(op, url string, err error) *Failure {
	return &Failure{Kind: TransportFailure, Op: op, URL: url, Err: err}
}

func protocolErr(op, url string, err error) *Failure {
	return &Failure{Kind: ProtocolFailure, Op: op, URL: url, Err: err}
}
