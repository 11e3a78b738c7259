package integrity_test

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmerrifield20/DocumentChain/internal/chain"
	"github.com/jmerrifield20/DocumentChain/internal/integrity"
)

func TestLocalProbe_valid(t *testing.T) {
	p := integrity.NewLocalProbe(seededStore(t, 2), nil)

	r := p.Check(ctx)
	require.Equal(t, integrity.StatusValid, r.Status)

	var body integrity.LocalBody
	require.NoError(t, json.Unmarshal(r.Details, &body))
	assert.True(t, body.Integrity)
	assert.Equal(t, 2, body.Records)
	assert.Nil(t, body.Sequence)

	// The body is readable by the oracle client's parser.
	st, err := integrity.ParseOracleBody(r.Details)
	require.NoError(t, err)
	assert.Equal(t, integrity.StatusValid, st)
}

func TestLocalProbe_tampered(t *testing.T) {
	store := fixedStore(t, 3)
	store.records[1].PrevHash = chain.GenesisHash

	r := integrity.NewLocalProbe(store, nil).Check(ctx)
	require.Equal(t, integrity.StatusInvalid, r.Status)

	var body integrity.LocalBody
	require.NoError(t, json.Unmarshal(r.Details, &body))
	assert.False(t, body.Integrity)
	require.NotNil(t, body.Sequence)
	assert.Equal(t, int64(1), *body.Sequence)
	assert.Equal(t, chain.ReasonHashMismatch, body.Reason)
}

func TestLocalProbe_storeError(t *testing.T) {
	store := &recordStore{listErr: errors.New("boom")}

	r := integrity.NewLocalProbe(store, nil).Check(ctx)
	assert.Equal(t, integrity.StatusUnknown, r.Status)
	assert.Error(t, r.Err)
}
