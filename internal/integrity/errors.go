package integrity

import (
	"encoding/json"
	"errors"

	"github.com/jmerrifield20/DocumentChain/internal/chain"
)

var (
	// ErrViolation matches every *ViolationError via errors.Is.
	ErrViolation = errors.New("integrity violation")

	// ErrIndeterminate is returned when no verdict could be reached, for
	// example because the oracle was unreachable. It is never a violation.
	ErrIndeterminate = errors.New("integrity indeterminate")
)

// ViolationError reports a failed integrity check. Tamper is set when the
// local verifier located the fault; oracle verdicts carry Details instead.
type ViolationError struct {
	Tamper  *chain.Tamper
	Details json.RawMessage
}

func (e *ViolationError) Error() string {
	if e.Tamper != nil {
		return "integrity violation: " + e.Tamper.String()
	}
	return "integrity violation reported by oracle"
}

// Is makes errors.Is(err, ErrViolation) hold.
func (e *ViolationError) Is(target error) bool {
	return target == ErrViolation
}
