package chain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// GenesisHash is the prev_hash carried by the record at sequence 0.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

var (
	// ErrNotFound is returned when no record matches a lookup.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicatePayload is returned by Append when duplicate rejection is
	// enabled and a record with the same canonical payload already exists.
	ErrDuplicatePayload = errors.New("duplicate payload")
)

// Record is a single document in the chain.
type Record struct {
	ID        string    `json:"id"`
	Sequence  int64     `json:"sequence"`
	PrevHash  string    `json:"prev_hash"`
	Hash      string    `json:"hash"`
	Payload   Payload   `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

// MarshalJSON adds payload_kind next to the payload.
func (r Record) MarshalJSON() ([]byte, error) {
	type plain Record
	return json.Marshal(struct {
		plain
		PayloadKind PayloadKind `json:"payload_kind"`
	}{plain(r), r.Payload.Kind()})
}

// Digest computes the link hash for a record:
//
//	hex(SHA-256(prevHash + "|" + decimal(sequence) + "|" + canonical(payload)))
func Digest(prevHash string, sequence int64, payload Payload) (string, error) {
	canon, err := payload.Canonical()
	if err != nil {
		return "", err
	}
	h := sha256.New()
	h.Write([]byte(prevHash))
	h.Write([]byte{'|'})
	h.Write([]byte(strconv.FormatInt(sequence, 10)))
	h.Write([]byte{'|'})
	h.Write(canon)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// newRecord builds the next record after prev. prev is nil for the genesis
// record.
func newRecord(id string, prev *Record, payload Payload, now time.Time) (*Record, error) {
	seq := int64(0)
	prevHash := GenesisHash
	if prev != nil {
		seq = prev.Sequence + 1
		prevHash = prev.Hash
	}

	hash, err := Digest(prevHash, seq, payload)
	if err != nil {
		return nil, fmt.Errorf("hash record %d: %w", seq, err)
	}

	return &Record{
		ID:        id,
		Sequence:  seq,
		PrevHash:  prevHash,
		Hash:      hash,
		Payload:   payload,
		Timestamp: now.UTC(),
	}, nil
}

// Checkpoint identifies the last record a verification pass accepted.
type Checkpoint struct {
	Sequence int64  `json:"sequence"`
	Hash     string `json:"hash"`
}

// GenesisCheckpoint is the checkpoint before any record.
var GenesisCheckpoint = Checkpoint{Sequence: -1, Hash: GenesisHash}

// Next returns the sequence expected after c.
func (c Checkpoint) Next() int64 { return c.Sequence + 1 }
