package integrity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jmerrifield20/DocumentChain/internal/chain"
)

// SentinelID is the id of the placeholder record returned by lenient reads.
const SentinelID = "TAMPERED"

// ReasonIndeterminate is the sentinel reason used when no verdict was reached.
const ReasonIndeterminate = "indeterminate"

// Policy selects what gated reads do when the chain is not trusted.
type Policy string

const (
	// PolicyStrict fails every gated operation.
	PolicyStrict Policy = "strict"
	// PolicyLenient answers reads with a single sentinel record.
	PolicyLenient Policy = "lenient"
)

// Source selects where the gate's verdict comes from.
type Source string

const (
	SourceLocal  Source = "local"
	SourceOracle Source = "oracle"
	SourceBoth   Source = "both"
)

// DefaultFullVerifyEvery is how often the gate re-verifies from genesis
// instead of from its cached checkpoint.
const DefaultFullVerifyEvery = 100

// GateConfig holds gate configuration.
type GateConfig struct {
	Policy Policy
	Source Source

	// FullVerifyEvery forces a verification from genesis every N checks.
	// Zero disables the periodic full pass.
	FullVerifyEvery int
}

// Verdict is the gate's decision for one check.
type Verdict struct {
	Status  Status
	Tamper  *chain.Tamper
	Head    chain.Checkpoint
	Details json.RawMessage
	Err     error
}

// VerdictHookFunc is an optional callback invoked after every check.
type VerdictHookFunc func(v Verdict)

// Gate guards every access to a chain.Store behind an integrity verdict.
type Gate struct {
	store  chain.Store
	oracle Prober
	sealer chain.Sealer
	cfg    GateConfig
	logger *zap.Logger

	onVerdict VerdictHookFunc

	// mu guards the verified checkpoint and the check counter.
	mu         sync.Mutex
	checkpoint *chain.Checkpoint
	checks     int
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithOracle sets the oracle used by SourceOracle and SourceBoth.
func WithOracle(p Prober) GateOption {
	return func(g *Gate) { g.oracle = p }
}

// WithSeal makes local verification also compare the head with the seal.
func WithSeal(s chain.Sealer) GateOption {
	return func(g *Gate) { g.sealer = s }
}

// NewGate creates a Gate over store.
func NewGate(store chain.Store, cfg GateConfig, logger *zap.Logger, opts ...GateOption) (*Gate, error) {
	if cfg.Policy == "" {
		cfg.Policy = PolicyStrict
	}
	if cfg.Source == "" {
		cfg.Source = SourceLocal
	}
	if cfg.FullVerifyEvery < 0 {
		cfg.FullVerifyEvery = 0
	}

	g := &Gate{store: store, cfg: cfg, logger: logger}
	for _, opt := range opts {
		opt(g)
	}

	switch cfg.Policy {
	case PolicyStrict, PolicyLenient:
	default:
		return nil, fmt.Errorf("unknown gate policy %q", cfg.Policy)
	}
	switch cfg.Source {
	case SourceLocal:
	case SourceOracle, SourceBoth:
		if g.oracle == nil {
			return nil, fmt.Errorf("gate source %q requires an oracle", cfg.Source)
		}
	default:
		return nil, fmt.Errorf("unknown gate source %q", cfg.Source)
	}
	return g, nil
}

// SetVerdictHook configures the per-check callback.
func (g *Gate) SetVerdictHook(fn VerdictHookFunc) {
	g.onVerdict = fn
}

// Policy returns the configured policy.
func (g *Gate) Policy() Policy { return g.cfg.Policy }

// Invalidate drops the cached checkpoint so the next check starts from genesis.
func (g *Gate) Invalidate() {
	g.mu.Lock()
	g.checkpoint = nil
	g.mu.Unlock()
}

// Verify runs one check and returns the verdict without applying policy.
func (g *Gate) Verify(ctx context.Context) Verdict {
	var v Verdict
	switch g.cfg.Source {
	case SourceOracle:
		v = g.verifyOracle(ctx)
	case SourceBoth:
		v = g.verifyLocal(ctx)
		if v.Status == StatusValid {
			ov := g.verifyOracle(ctx)
			ov.Head = v.Head
			v = ov
		}
	default:
		v = g.verifyLocal(ctx)
	}

	if v.Status != StatusValid {
		g.Invalidate()
	}
	if g.onVerdict != nil {
		g.onVerdict(v)
	}
	return v
}

// admit returns nil when the chain is trusted, or the error that describes
// why it is not.
func (g *Gate) admit(ctx context.Context) error {
	v := g.Verify(ctx)
	switch v.Status {
	case StatusValid:
		return nil
	case StatusInvalid:
		err := &ViolationError{Tamper: v.Tamper, Details: v.Details}
		g.logger.Warn("integrity gate refused access", zap.Error(err))
		return err
	default:
		if v.Err != nil {
			g.logger.Warn("integrity gate could not reach a verdict", zap.Error(v.Err))
			return fmt.Errorf("%w: %v", ErrIndeterminate, v.Err)
		}
		return ErrIndeterminate
	}
}

func (g *Gate) verifyLocal(ctx context.Context) Verdict {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.sealer != nil {
		defer chain.LockForCheck(g.sealer)()
	}

	g.checks++
	from := chain.GenesisCheckpoint
	if g.checkpoint != nil && !g.fullPassDue() {
		from = *g.checkpoint
	}

	v, err := g.verifyFrom(ctx, from)
	if err != nil {
		return Verdict{Status: StatusUnknown, Err: err}
	}
	if v.Tamper == nil && g.sealer != nil {
		v.Tamper = chain.CheckSeal(ctx, g.sealer, v.Head)
	}

	if v.Tamper != nil {
		g.checkpoint = nil
		body, _ := json.Marshal(NewLocalBody(v.Tamper, int(v.Head.Next())))
		return Verdict{Status: StatusInvalid, Tamper: v.Tamper, Head: v.Head, Details: body}
	}

	head := v.Head
	g.checkpoint = &head
	return Verdict{Status: StatusValid, Head: head}
}

func (g *Gate) fullPassDue() bool {
	every := g.cfg.FullVerifyEvery
	return every > 0 && g.checks%every == 0
}

// verifyFrom verifies the stored suffix after from. When nothing follows a
// cached checkpoint the stored head must still be that checkpoint, otherwise
// the chain was rewritten below it and is verified again from genesis.
func (g *Gate) verifyFrom(ctx context.Context, from chain.Checkpoint) (chain.Verdict, error) {
	if from == chain.GenesisCheckpoint {
		records, err := g.store.List(ctx)
		if err != nil {
			return chain.Verdict{}, fmt.Errorf("load chain: %w", err)
		}
		return chain.Verify(records), nil
	}

	suffix, err := g.store.Since(ctx, from.Sequence)
	if err != nil {
		return chain.Verdict{}, fmt.Errorf("load chain suffix: %w", err)
	}
	if len(suffix) == 0 {
		latest, err := g.store.Latest(ctx)
		if err != nil && !errors.Is(err, chain.ErrNotFound) {
			return chain.Verdict{}, fmt.Errorf("load chain head: %w", err)
		}
		if latest == nil || latest.Sequence != from.Sequence || latest.Hash != from.Hash {
			return g.verifyFrom(ctx, chain.GenesisCheckpoint)
		}
	}
	return chain.VerifyFrom(from, suffix), nil
}

func (g *Gate) verifyOracle(ctx context.Context) Verdict {
	r := g.oracle.Check(ctx)
	return Verdict{Status: r.Status, Details: r.Details, Err: r.Err}
}

// advance moves the cached checkpoint onto r when r directly extends it.
func (g *Gate) advance(r *chain.Record) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.checkpoint == nil {
		return
	}
	if g.checkpoint.Sequence+1 == r.Sequence && g.checkpoint.Hash == r.PrevHash {
		g.checkpoint = &chain.Checkpoint{Sequence: r.Sequence, Hash: r.Hash}
	}
}

// refuse applies the read policy to a failed check.
func (g *Gate) refuse(err error) (*chain.Record, error) {
	if g.cfg.Policy != PolicyLenient {
		return nil, err
	}
	var ve *ViolationError
	switch {
	case errors.As(err, &ve):
		if ve.Tamper != nil {
			return Sentinel(string(ve.Tamper.Reason), ve.Tamper.Sequence), nil
		}
		return Sentinel("oracle_reported", -1), nil
	case errors.Is(err, ErrIndeterminate):
		return Sentinel(ReasonIndeterminate, -1), nil
	default:
		return nil, err
	}
}

// List returns every record, ascending by sequence.
func (g *Gate) List(ctx context.Context) ([]*chain.Record, error) {
	if err := g.admit(ctx); err != nil {
		s, err := g.refuse(err)
		if err != nil {
			return nil, err
		}
		return []*chain.Record{s}, nil
	}
	return g.store.List(ctx)
}

// Get returns the record with the given id.
func (g *Gate) Get(ctx context.Context, id string) (*chain.Record, error) {
	if err := g.admit(ctx); err != nil {
		return g.refuse(err)
	}
	return g.store.Get(ctx, id)
}

// ByAttribute returns object records whose attr field equals value.
func (g *Gate) ByAttribute(ctx context.Context, attr chain.Attribute, value string) ([]*chain.Record, error) {
	if err := g.admit(ctx); err != nil {
		s, err := g.refuse(err)
		if err != nil {
			return nil, err
		}
		return []*chain.Record{s}, nil
	}
	return g.store.ByAttribute(ctx, attr, value)
}

// Latest returns the head record.
func (g *Gate) Latest(ctx context.Context) (*chain.Record, error) {
	if err := g.admit(ctx); err != nil {
		return g.refuse(err)
	}
	return g.store.Latest(ctx)
}

// Append verifies the chain and appends payload. Writes are refused under
// both policies when the chain is not trusted.
func (g *Gate) Append(ctx context.Context, payload chain.Payload) (*chain.Record, error) {
	if err := g.admit(ctx); err != nil {
		return nil, err
	}
	r, err := g.store.Append(ctx, payload)
	if err != nil {
		return nil, err
	}
	g.advance(r)
	return r, nil
}

// Sentinel builds the placeholder record returned by lenient reads.
func Sentinel(reason string, sequence int64) *chain.Record {
	return &chain.Record{
		ID:       SentinelID,
		Sequence: -1,
		Payload: chain.ObjectPayload(map[string]any{
			"message":  "Blockchain integrity compromised",
			"reason":   reason,
			"sequence": sequence,
		}),
		Timestamp: time.Now().UTC(),
	}
}

// IsSentinel reports whether r is a placeholder returned by a lenient read.
func IsSentinel(r *chain.Record) bool {
	return r != nil && r.ID == SentinelID && r.Sequence == -1
}
