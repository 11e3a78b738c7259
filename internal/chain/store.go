package chain

import "context"

// Attribute names an indexed top-level field of object payloads.
type Attribute string

const (
	AttrDataType   Attribute = "dataType"
	AttrIdentifier Attribute = "identifier"
)

// Valid reports whether a is one of the indexed attributes.
func (a Attribute) Valid() bool {
	return a == AttrDataType || a == AttrIdentifier
}

// Store is the append-only document chain. MemoryStore, PostgresStore and
// SQLiteStore implement it. Stores never verify; see Verify and the
// integrity gate.
type Store interface {
	// Append hashes payload onto the current head and stores the new record.
	// The first append creates the genesis record at sequence 0.
	Append(ctx context.Context, payload Payload) (*Record, error)

	// List returns every record ascending by sequence.
	List(ctx context.Context) ([]*Record, error)

	// Since returns records with sequence > after, ascending.
	Since(ctx context.Context, after int64) ([]*Record, error)

	// Get returns the record with the given store-assigned id.
	Get(ctx context.Context, id string) (*Record, error)

	// ByAttribute returns object-payload records whose attr field equals
	// value, ascending by sequence.
	ByAttribute(ctx context.Context, attr Attribute, value string) ([]*Record, error)

	// Latest returns the record with the highest sequence.
	Latest(ctx context.Context) (*Record, error)

	// Len returns the number of records.
	Len(ctx context.Context) (int, error)
}

// Option configures store behaviour shared by all backends.
type Option func(*options)

type options struct {
	rejectDuplicates bool
	sealer           Sealer
}

// WithDuplicateRejection makes Append refuse payloads whose canonical form
// already exists in the chain.
func WithDuplicateRejection() Option {
	return func(o *options) { o.rejectDuplicates = true }
}

// WithSealer seals the head hash after every append.
func WithSealer(s Sealer) Option {
	return func(o *options) { o.sealer = s }
}

func buildOptions(opts []Option) options {
	var o options
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// lockHead is taken first in every Append, before any backend lock, and
// held until afterAppend has sealed the new head.
func (o options) lockHead() func() {
	if o.sealer == nil {
		return func() {}
	}
	return lockForAppend(o.sealer)
}

// afterAppend runs the post-append hooks shared by every backend.
func (o options) afterAppend(ctx context.Context, r *Record) error {
	if o.sealer == nil {
		return nil
	}
	return o.sealer.Seal(ctx, r.Hash)
}

func containsPayload(records []*Record, p Payload) bool {
	for _, r := range records {
		if r.Payload.Equal(p) {
			return true
		}
	}
	return false
}
