package chain_test

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/jmerrifield20/DocumentChain/internal/chain"
)

// storeFactory builds an empty store with the given options.
type storeFactory func(t *testing.T, opts ...chain.Option) chain.Store

func memoryFactory(_ *testing.T, opts ...chain.Option) chain.Store {
	return chain.NewMemoryStore(opts...)
}

func TestMemoryStore(t *testing.T) {
	runStoreTests(t, memoryFactory)
}

func runStoreTests(t *testing.T, newStore storeFactory) {
	t.Run("empty", func(t *testing.T) { testEmpty(t, newStore) })
	t.Run("append_chains", func(t *testing.T) { testAppendChains(t, newStore) })
	t.Run("get", func(t *testing.T) { testGet(t, newStore) })
	t.Run("by_attribute", func(t *testing.T) { testByAttribute(t, newStore) })
	t.Run("since", func(t *testing.T) { testSince(t, newStore) })
	t.Run("duplicates", func(t *testing.T) { testDuplicates(t, newStore) })
	t.Run("concurrent_appends", func(t *testing.T) { testConcurrentAppends(t, newStore) })
}

func testEmpty(t *testing.T, newStore storeFactory) {
	s := newStore(t)

	n, err := s.Len(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("Len: got %d, want 0", n)
	}
	if _, err := s.Latest(ctx); !errors.Is(err, chain.ErrNotFound) {
		t.Errorf("Latest on empty store: got %v, want ErrNotFound", err)
	}
	records, err := s.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 0 {
		t.Errorf("List: got %d records", len(records))
	}
}

func testAppendChains(t *testing.T, newStore storeFactory) {
	s := newStore(t)

	r0, err := s.Append(ctx, chain.StringPayload("first"))
	if err != nil {
		t.Fatal(err)
	}
	r1, err := s.Append(ctx, chain.StringPayload("second"))
	if err != nil {
		t.Fatal(err)
	}

	if r0.Sequence != 0 || r0.PrevHash != chain.GenesisHash {
		t.Errorf("genesis: seq %d prev %q", r0.Sequence, r0.PrevHash)
	}
	if r1.Sequence != 1 || r1.PrevHash != r0.Hash {
		t.Errorf("chain broken: r1.PrevHash=%q, want r0.Hash=%q", r1.PrevHash, r0.Hash)
	}

	latest, err := s.Latest(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if latest.ID != r1.ID {
		t.Errorf("Latest: got %s, want %s", latest.ID, r1.ID)
	}

	records, err := s.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if v := chain.Verify(records); !v.Verified() {
		t.Errorf("stored chain does not verify: %v", v.Tamper)
	}
}

func testGet(t *testing.T, newStore storeFactory) {
	s := newStore(t)
	r, err := s.Append(ctx, chain.ObjectPayload(map[string]any{"k": "v"}))
	if err != nil {
		t.Fatal(err)
	}

	got, err := s.Get(ctx, r.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Hash != r.Hash || !got.Payload.Equal(r.Payload) {
		t.Errorf("Get: got %+v, want %+v", got, r)
	}
	if !got.Timestamp.Equal(r.Timestamp) {
		t.Errorf("timestamp: got %v, want %v", got.Timestamp, r.Timestamp)
	}

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, chain.ErrNotFound) {
		t.Errorf("Get(missing): got %v, want ErrNotFound", err)
	}
}

func testByAttribute(t *testing.T, newStore storeFactory) {
	s := newStore(t)
	docs := []map[string]any{
		{"dataType": "invoice", "identifier": "A-1"},
		{"dataType": "receipt", "identifier": "A-2"},
		{"dataType": "invoice", "identifier": "A-3"},
	}
	for _, d := range docs {
		if _, err := s.Append(ctx, chain.ObjectPayload(d)); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := s.Append(ctx, chain.StringPayload("invoice")); err != nil {
		t.Fatal(err)
	}

	invoices, err := s.ByAttribute(ctx, chain.AttrDataType, "invoice")
	if err != nil {
		t.Fatal(err)
	}
	if len(invoices) != 2 {
		t.Fatalf("ByAttribute(dataType=invoice): got %d, want 2", len(invoices))
	}
	if invoices[0].Sequence != 0 || invoices[1].Sequence != 2 {
		t.Errorf("not ascending: %d, %d", invoices[0].Sequence, invoices[1].Sequence)
	}

	byID, err := s.ByAttribute(ctx, chain.AttrIdentifier, "A-2")
	if err != nil {
		t.Fatal(err)
	}
	if len(byID) != 1 || byID[0].Sequence != 1 {
		t.Errorf("ByAttribute(identifier=A-2): got %v", byID)
	}

	none, err := s.ByAttribute(ctx, chain.AttrIdentifier, "nope")
	if err != nil {
		t.Fatal(err)
	}
	if len(none) != 0 {
		t.Errorf("expected no matches, got %d", len(none))
	}
}

func testSince(t *testing.T, newStore storeFactory) {
	s := newStore(t)
	for i := 0; i < 5; i++ {
		n, _ := chain.NumberPayload(json.Number("1"))
		if i%2 == 0 {
			n = chain.StringPayload("even")
		}
		if _, err := s.Append(ctx, n); err != nil {
			t.Fatal(err)
		}
	}

	tail, err := s.Since(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(tail) != 2 || tail[0].Sequence != 3 {
		t.Errorf("Since(2): got %d records", len(tail))
	}

	all, err := s.Since(ctx, -1)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 5 {
		t.Errorf("Since(-1): got %d, want 5", len(all))
	}

	past, err := s.Since(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(past) != 0 {
		t.Errorf("Since(10): got %d, want 0", len(past))
	}
}

func testDuplicates(t *testing.T, newStore storeFactory) {
	s := newStore(t, chain.WithDuplicateRejection())

	if _, err := s.Append(ctx, chain.ObjectPayload(map[string]any{"a": "1", "b": "2"})); err != nil {
		t.Fatal(err)
	}
	_, err := s.Append(ctx, chain.ObjectPayload(map[string]any{"b": "2", "a": "1"}))
	if !errors.Is(err, chain.ErrDuplicatePayload) {
		t.Errorf("duplicate object: got %v, want ErrDuplicatePayload", err)
	}
	if _, err := s.Append(ctx, chain.StringPayload("1")); err != nil {
		t.Errorf("distinct payload rejected: %v", err)
	}

	plain := newStore(t)
	for i := 0; i < 2; i++ {
		if _, err := plain.Append(ctx, chain.StringPayload("same")); err != nil {
			t.Errorf("duplicates allowed by default: %v", err)
		}
	}
}

func testConcurrentAppends(t *testing.T, newStore storeFactory) {
	s := newStore(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Append(ctx, chain.StringPayload("x")); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	records, err := s.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 20 {
		t.Fatalf("got %d records, want 20", len(records))
	}
	if v := chain.Verify(records); !v.Verified() {
		t.Errorf("concurrent appends broke the chain: %v", v.Tamper)
	}
}

func TestMemoryStore_returnsCopies(t *testing.T) {
	s := chain.NewMemoryStore()
	r, err := s.Append(ctx, chain.StringPayload("orig"))
	if err != nil {
		t.Fatal(err)
	}
	r.Hash = "mutated"

	records, _ := s.List(ctx)
	records[0].Payload = chain.StringPayload("mutated")

	if v := chain.Verify(mustList(t, s)); !v.Verified() {
		t.Errorf("caller mutation leaked into store: %v", v.Tamper)
	}
}

func TestMemoryStore_objectPayloadsAreCopied(t *testing.T) {
	s := chain.NewMemoryStore()
	src := map[string]any{"x": "1"}
	if _, err := s.Append(ctx, chain.ObjectPayload(src)); err != nil {
		t.Fatal(err)
	}
	src["x"] = "evil"

	records := mustList(t, s)
	records[0].Payload.Object()["x"] = "evil"

	r, err := s.Get(ctx, records[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	r.Payload.Object()["x"] = "evil"

	if v := chain.Verify(mustList(t, s)); !v.Verified() {
		t.Errorf("object mutation leaked into store: %v", v.Tamper)
	}
	if got, _ := mustList(t, s)[0].Payload.Attr("x"); got != "1" {
		t.Errorf("stored object field: got %q, want 1", got)
	}
}

func mustList(t *testing.T, s chain.Store) []*chain.Record {
	t.Helper()
	records, err := s.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	return records
}
