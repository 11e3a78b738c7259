package chain

import "fmt"

// Reason classifies a detected tamper.
type Reason string

const (
	// ReasonHashMismatch means the stored hash does not match the recomputed digest.
	ReasonHashMismatch Reason = "hash_mismatch"
	// ReasonBrokenLink means the record is self-consistent but its prev_hash
	// does not point at its predecessor.
	ReasonBrokenLink Reason = "broken_link"
	// ReasonSequenceGap means a sequence number is missing, repeated or out of order.
	ReasonSequenceGap Reason = "sequence_gap"
	// ReasonTipMismatch means the head hash disagrees with the sealed head.
	ReasonTipMismatch Reason = "tip_mismatch"
)

// Tamper reports the lowest offending sequence and what was wrong with it.
type Tamper struct {
	Sequence int64  `json:"sequence"`
	Reason   Reason `json:"reason"`
}

func (t Tamper) String() string {
	return fmt.Sprintf("%s at sequence %d", t.Reason, t.Sequence)
}

// Verdict is the result of a verification pass. Head is the last accepted
// checkpoint; when Tamper is set it is the checkpoint just before the
// offending record.
type Verdict struct {
	Tamper  *Tamper    `json:"tamper,omitempty"`
	Head    Checkpoint `json:"head"`
	Checked int        `json:"checked"`
}

// Verified reports whether the pass found no tamper.
func (v Verdict) Verified() bool { return v.Tamper == nil }

// Verify checks a full chain, ascending by sequence from 0.
func Verify(records []*Record) Verdict {
	return VerifyFrom(GenesisCheckpoint, records)
}

// VerifyFrom checks records that continue the chain after from. It makes a
// single forward pass and stops at the first violation. For each record the
// hash is checked before the link, so a corrupted record reports
// HashMismatch even when its prev_hash still matches its neighbour.
func VerifyFrom(from Checkpoint, records []*Record) Verdict {
	v := Verdict{Head: from}

	for _, r := range records {
		expected := v.Head.Next()
		if r.Sequence != expected {
			v.Tamper = &Tamper{Sequence: expected, Reason: ReasonSequenceGap}
			return v
		}

		hash, err := Digest(r.PrevHash, r.Sequence, r.Payload)
		if err != nil || hash != r.Hash {
			v.Tamper = &Tamper{Sequence: r.Sequence, Reason: ReasonHashMismatch}
			return v
		}

		if r.PrevHash != v.Head.Hash {
			v.Tamper = &Tamper{Sequence: r.Sequence, Reason: ReasonBrokenLink}
			return v
		}

		v.Head = Checkpoint{Sequence: r.Sequence, Hash: r.Hash}
		v.Checked++
	}
	return v
}
