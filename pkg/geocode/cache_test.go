package geocode

import (
	"context"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubClient counts calls and returns a fixed result.
type stubClient struct {
	calls  int
	result Result
}

func (s *stubClient) Geocode(context.Context, AddressInput) (*Result, error) {
	s.calls++
	r := s.result
	return &r, nil
}

func (s *stubClient) BatchGeocode(ctx context.Context, addrs []AddressInput) ([]Result, error) {
	out := make([]Result, len(addrs))
	for i, addr := range addrs {
		r, _ := s.Geocode(ctx, addr)
		out[i] = *r
	}
	return out, nil
}

func TestCachedClientHit(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT x, y, status, addr_type, score, matched, matched_address").
		WithArgs(pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"x", "y", "status", "addr_type", "score", "matched", "matched_address"}).
			AddRow(-93.25, 44.98, "M", "PointAddress", 100.0, true, "10 Main St"))

	inner := &stubClient{}
	c := NewCachedClient(inner, mock)

	r, err := c.Geocode(context.Background(), AddressInput{SingleLine: "10 Main St"})
	require.NoError(t, err)

	assert.True(t, r.Matched)
	assert.Equal(t, "PointAddress", r.AddrType)
	assert.Zero(t, inner.calls, "cache hit must not call the locator")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCachedClientMissStoresResult(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT x, y, status, addr_type, score, matched, matched_address").
		WithArgs(pgxmock.AnyArg()).
		WillReturnError(assert.AnError)
	mock.ExpectExec("INSERT INTO public.geocode_cache").
		WithArgs(pgxmock.AnyArg(), 1.0, 2.0, "M", "StreetAddress", 95.0, true, "ok").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	inner := &stubClient{result: Result{
		X: 1, Y: 2, Status: StatusMatched, AddrType: "StreetAddress",
		Score: 95, Matched: true, MatchedAddress: "ok",
	}}
	c := NewCachedClient(inner, mock)

	r, err := c.Geocode(context.Background(), AddressInput{SingleLine: "10 Main St"})
	require.NoError(t, err)

	assert.True(t, r.Matched)
	assert.Equal(t, 1, inner.calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCachedClientTTLClause(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`cached_at > now\(\) - interval '30 days'`).
		WithArgs(pgxmock.AnyArg()).
		WillReturnError(assert.AnError)
	mock.ExpectExec("INSERT INTO geo.cache").
		WithArgs(pgxmock.AnyArg(), 0.0, 0.0, "U", "", 0.0, false, "").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	inner := &stubClient{result: Result{Status: StatusUnmatched}}
	c := NewCachedClient(inner, mock, WithCacheTable("geo.cache"), WithCacheTTLDays(30))

	r, err := c.Geocode(context.Background(), AddressInput{SingleLine: "nowhere"})
	require.NoError(t, err)
	assert.False(t, r.Matched)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCacheKeyNormalizes(t *testing.T) {
	a := cacheKey(AddressInput{Street: " 10 Main St ", City: "Springfield"})
	b := cacheKey(AddressInput{Street: "10 MAIN ST", City: "springfield"})
	c := cacheKey(AddressInput{Street: "20 Oak St", City: "Springfield"})

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}
