package integrity

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jmerrifield20/DocumentChain/internal/chain"
)

// LocalBody is the oracle-compatible response describing a local verdict.
// It carries the "Integrity" field so this service can itself act as an
// oracle for another instance.
type LocalBody struct {
	Integrity bool         `json:"Integrity"`
	Message   string       `json:"message"`
	Sequence  *int64       `json:"sequence,omitempty"`
	Reason    chain.Reason `json:"reason,omitempty"`
	Records   int          `json:"records"`
}

// NewLocalBody describes the outcome of verifying records records.
func NewLocalBody(tamper *chain.Tamper, records int) LocalBody {
	if tamper == nil {
		return LocalBody{Integrity: true, Message: "Blockchain is valid", Records: records}
	}
	seq := tamper.Sequence
	return LocalBody{
		Message:  fmt.Sprintf("Blockchain integrity compromised at sequence %d", seq),
		Sequence: &seq,
		Reason:   tamper.Reason,
		Records:  records,
	}
}

// LocalProbe verifies the whole stored chain on every check.
type LocalProbe struct {
	store  chain.Store
	sealer chain.Sealer
}

// NewLocalProbe creates a probe over store. sealer may be nil.
func NewLocalProbe(store chain.Store, sealer chain.Sealer) *LocalProbe {
	return &LocalProbe{store: store, sealer: sealer}
}

// Verify loads and verifies the chain, including the head seal when one is
// configured. The returned tamper is nil for a trusted chain.
func (p *LocalProbe) Verify(ctx context.Context) (*chain.Tamper, int, error) {
	if p.sealer != nil {
		defer chain.LockForCheck(p.sealer)()
	}
	records, err := p.store.List(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("load chain: %w", err)
	}
	v := chain.Verify(records)
	if v.Tamper == nil && p.sealer != nil {
		v.Tamper = chain.CheckSeal(ctx, p.sealer, v.Head)
	}
	return v.Tamper, len(records), nil
}

// Check implements Prober.
func (p *LocalProbe) Check(ctx context.Context) Report {
	tamper, n, err := p.Verify(ctx)
	if err != nil {
		return unknown(err)
	}
	body, err := json.Marshal(NewLocalBody(tamper, n))
	if err != nil {
		return unknown(err)
	}
	if tamper != nil {
		return Report{Status: StatusInvalid, Details: body}
	}
	return Report{Status: StatusValid, Details: body}
}
