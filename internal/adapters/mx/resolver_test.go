package mx

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stoik/fraud-shield/internal/domain"
)

func newTestResolver(t *testing.T, handler http.HandlerFunc) *Resolver {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(zerolog.Nop(), WithEndpoint(srv.URL), WithHTTPClient(srv.Client()))
}

func TestResolve_ParsesAndClassifiesGoogle(t *testing.T) {
	r := newTestResolver(t, func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/dns-json")
		_, _ = w.Write([]byte(`{"Status":0,"Answer":[{"name":"example.com","type":15,"TTL":300,"data":"10 aspmx.l.google.com."}]}`))
	})

	res, ok := r.Resolve(context.Background(), "example.com")
	require.True(t, ok)
	assert.True(t, res.HasRecords)
	assert.Equal(t, []string{"aspmx.l.google.com"}, res.Hosts)
	assert.Equal(t, domain.MXProviderGoogle, res.Bucket)
}

func TestResolve_OrdersByPriority(t *testing.T) {
	r := newTestResolver(t, func(w http.ResponseWriter, req *http.Request) {
		_, _ = w.Write([]byte(`{"Status":0,"Answer":[
			{"name":"example.com","type":15,"data":"20 backup.example.net."},
			{"name":"example.com","type":15,"data":"5 primary.example.net."}
		]}`))
	})

	res, ok := r.Resolve(context.Background(), "example.com")
	require.True(t, ok)
	require.Len(t, res.Hosts, 2)
	assert.Equal(t, "primary.example.net", res.Hosts[0])
}

func TestResolve_NoRecordsIsNotAFailure(t *testing.T) {
	r := newTestResolver(t, func(w http.ResponseWriter, req *http.Request) {
		_, _ = w.Write([]byte(`{"Status":0,"Answer":[]}`))
	})

	res, ok := r.Resolve(context.Background(), "no-mx.example.com")
	require.True(t, ok)
	assert.False(t, res.HasRecords)
}

func TestResolve_TimeoutYieldsNullResult(t *testing.T) {
	r := newTestResolver(t, func(w http.ResponseWriter, req *http.Request) {
		time.Sleep(50 * time.Millisecond)
		_, _ = w.Write([]byte(`{"Status":0,"Answer":[]}`))
	})
	r.timeout = 5 * time.Millisecond

	_, ok := r.Resolve(context.Background(), "slow.example.com")
	assert.False(t, ok)
}

func TestResolve_CachesResult(t *testing.T) {
	calls := 0
	r := newTestResolver(t, func(w http.ResponseWriter, req *http.Request) {
		calls++
		_, _ = w.Write([]byte(`{"Status":0,"Answer":[{"type":15,"data":"10 mail.example.com."}]}`))
	})

	_, _ = r.Resolve(context.Background(), "cached.example.com")
	_, _ = r.Resolve(context.Background(), "cached.example.com")
	assert.Equal(t, 1, calls)
}
