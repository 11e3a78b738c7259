package chain_test

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/jmerrifield20/DocumentChain/internal/chain"
)

func appendAll(docs []string) ([]*chain.Record, error) {
	s := chain.NewMemoryStore()
	for _, d := range docs {
		if _, err := s.Append(ctx, chain.StringPayload(d)); err != nil {
			return nil, err
		}
	}
	return s.List(ctx)
}

// TestChainProperties covers the verifier over arbitrary chains.
func TestChainProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("stored chains always verify", prop.ForAll(
		func(docs []string) bool {
			records, err := appendAll(docs)
			if err != nil {
				return false
			}
			v := chain.Verify(records)
			return v.Verified() && v.Checked == len(docs)
		},
		gen.SliceOf(gen.AlphaString()),
	))

	properties.Property("editing any payload is caught at that record", prop.ForAll(
		func(docs []string, at int) bool {
			records, err := appendAll(docs)
			if err != nil {
				return false
			}
			i := at % len(records)
			records[i].Payload = chain.StringPayload(records[i].Payload.Text() + "!")

			v := chain.Verify(records)
			return !v.Verified() &&
				v.Tamper.Sequence == int64(i) &&
				v.Tamper.Reason == chain.ReasonHashMismatch
		},
		gen.SliceOfN(8, gen.AlphaString()),
		gen.IntRange(0, 1000),
	))

	properties.Property("resealing a record breaks the next link", prop.ForAll(
		func(docs []string, at int) bool {
			records, err := appendAll(docs)
			if err != nil {
				return false
			}
			i := at % (len(records) - 1)
			forged := chain.StringPayload("forged:" + records[i].Payload.Text())
			h, err := chain.Digest(records[i].PrevHash, records[i].Sequence, forged)
			if err != nil {
				return false
			}
			records[i].Payload = forged
			records[i].Hash = h

			v := chain.Verify(records)
			return !v.Verified() &&
				v.Tamper.Sequence == int64(i+1) &&
				v.Tamper.Reason == chain.ReasonBrokenLink
		},
		gen.SliceOfN(6, gen.AlphaString()),
		gen.IntRange(0, 1000),
	))

	properties.Property("prefix checkpoint plus suffix equals full pass", prop.ForAll(
		func(docs []string, split int) bool {
			records, err := appendAll(docs)
			if err != nil {
				return false
			}
			k := split % (len(records) + 1)
			prefix := chain.Verify(records[:k])
			suffix := chain.VerifyFrom(prefix.Head, records[k:])
			full := chain.Verify(records)
			return suffix.Verified() && suffix.Head == full.Head
		},
		gen.SliceOfN(5, gen.AlphaString()),
		gen.IntRange(0, 1000),
	))

	properties.TestingRun(t)
}
