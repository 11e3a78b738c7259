package integrity_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jmerrifield20/DocumentChain/internal/integrity"
)

func oracleServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOracleClient_verdicts(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   integrity.Status
	}{
		{"lowercase bool", 200, `{"integrity": true}`, integrity.StatusValid},
		{"capitalised bool false", 200, `{"Integrity": false, "message": "x"}`, integrity.StatusInvalid},
		{"upper string", 200, `{"INTEGRITY": "true"}`, integrity.StatusValid},
		{"string zero", 200, `{"Integrity": "0"}`, integrity.StatusInvalid},
		{"alias order", 200, `{"INTEGRITY": false, "integrity": true}`, integrity.StatusValid},
		{"diagnostic valid field ignored", 200, `{"valid": false, "integrity": true}`, integrity.StatusValid},
		{"valid field alone", 200, `{"valid": true}`, integrity.StatusUnknown},
		{"missing field", 200, `{"status": "ok"}`, integrity.StatusUnknown},
		{"bad value", 200, `{"integrity": "maybe"}`, integrity.StatusUnknown},
		{"numeric value", 200, `{"integrity": 1}`, integrity.StatusUnknown},
		{"not json", 200, `<html>`, integrity.StatusUnknown},
		{"array body", 200, `[true]`, integrity.StatusUnknown},
		{"server error", 500, `{"integrity": true}`, integrity.StatusUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := oracleServer(t, tt.status, tt.body)
			c := integrity.NewOracleClient(srv.URL, zap.NewNop())

			r := c.Check(ctx)
			assert.Equal(t, tt.want, r.Status)
			if tt.want == integrity.StatusUnknown {
				assert.Error(t, r.Err)
			} else {
				assert.NoError(t, r.Err)
			}
		})
	}
}

func TestOracleClient_preservesDetails(t *testing.T) {
	body := `{"Integrity": false, "message": "Blockchain integrity compromised", "block": 7}`
	srv := oracleServer(t, 200, body)

	r := integrity.NewOracleClient(srv.URL, zap.NewNop()).Check(ctx)
	require.Equal(t, integrity.StatusInvalid, r.Status)
	assert.JSONEq(t, body, string(r.Details))
}

func TestOracleClient_timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(time.Second):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	c := integrity.NewOracleClient(srv.URL, zap.NewNop(),
		integrity.WithHTTPClient(&http.Client{Timeout: 50 * time.Millisecond}))

	r := c.Check(ctx)
	assert.Equal(t, integrity.StatusUnknown, r.Status)
	assert.Error(t, r.Err)
}

func TestOracleClient_unreachable(t *testing.T) {
	srv := oracleServer(t, 200, `{}`)
	url := srv.URL
	srv.Close()

	r := integrity.NewOracleClient(url, zap.NewNop()).Check(ctx)
	assert.Equal(t, integrity.StatusUnknown, r.Status)
}

func TestParseStatus(t *testing.T) {
	for _, s := range []integrity.Status{integrity.StatusValid, integrity.StatusInvalid, integrity.StatusUnknown} {
		got, err := integrity.ParseStatus(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}
	_, err := integrity.ParseStatus("bogus")
	assert.Error(t, err)
}
