// Package integrity decides whether the document chain may be trusted.
//
// A verdict comes from the local verifier (recomputing the chain from the
// store), from a remote integrity oracle over HTTP, or from both. The Gate
// wraps every read and write of the chain behind such a verdict and applies
// a strict or lenient policy when the chain cannot be trusted.
package integrity

import (
	"context"
	"encoding/json"
	"fmt"
)

// Status is the tri-state outcome of an integrity probe.
type Status int32

const (
	// StatusUnknown means the probe could not reach a verdict.
	StatusUnknown Status = iota
	StatusValid
	StatusInvalid
)

func (s Status) String() string {
	switch s {
	case StatusValid:
		return "valid"
	case StatusInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// ParseStatus is the inverse of Status.String.
func ParseStatus(s string) (Status, error) {
	switch s {
	case "valid":
		return StatusValid, nil
	case "invalid":
		return StatusInvalid, nil
	case "unknown":
		return StatusUnknown, nil
	default:
		return StatusUnknown, fmt.Errorf("unknown integrity status %q", s)
	}
}

// MarshalJSON encodes the status as its string form.
func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// Report is the result of one probe. Details holds the diagnostic body
// verbatim; Err is set when Status is StatusUnknown.
type Report struct {
	Status  Status
	Details json.RawMessage
	Err     error
}

// Prober produces an integrity report. OracleClient and LocalProbe
// implement it.
type Prober interface {
	Check(ctx context.Context) Report
}
