package geocode

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeocodeSingleLine(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "/findAddressCandidates", r.URL.Path)
		assert.Equal(t, "10 Main St, Springfield", r.Form.Get("SingleLine"))
		assert.Equal(t, "json", r.Form.Get("f"))
		fmt.Fprint(w, `{"candidates":[
			{"address":"10 Main St, Springfield","location":{"x":-93.25,"y":44.98},"score":100,
			 "attributes":{"Status":"M","Addr_type":"PointAddress"}}
		]}`)
	}))
	defer srv.Close()

	l := NewLocator(srv.URL)
	r, err := l.Geocode(context.Background(), AddressInput{SingleLine: "10 Main St, Springfield"})
	require.NoError(t, err)

	assert.True(t, r.Matched)
	assert.Equal(t, StatusMatched, r.Status)
	assert.Equal(t, "PointAddress", r.AddrType)
	assert.InDelta(t, -93.25, r.X, 1e-9)
	assert.InDelta(t, 44.98, r.Y, 1e-9)
	assert.Equal(t, "10 Main St, Springfield", r.MatchedAddress)
}

func TestGeocodeComponents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "10 Main St", r.Form.Get("Address"))
		assert.Equal(t, "Springfield", r.Form.Get("City"))
		assert.Equal(t, "MN", r.Form.Get("Region"))
		assert.Equal(t, "55401", r.Form.Get("Postal"))
		fmt.Fprint(w, `{"candidates":[]}`)
	}))
	defer srv.Close()

	l := NewLocator(srv.URL)
	r, err := l.Geocode(context.Background(), AddressInput{
		Street: "10 Main St", City: "Springfield", State: "MN", ZipCode: "55401",
	})
	require.NoError(t, err)

	assert.False(t, r.Matched)
	assert.Equal(t, StatusUnmatched, r.Status)
}

func TestGeocodePicksBestCandidate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"candidates":[
			{"address":"approx","location":{"x":1,"y":1},"score":72,"attributes":{"Status":"T","Addr_type":"Locality"}},
			{"address":"exact","location":{"x":2,"y":2},"score":98,"attributes":{"Status":"M","Addr_type":"StreetAddress"}}
		]}`)
	}))
	defer srv.Close()

	l := NewLocator(srv.URL)
	r, err := l.Geocode(context.Background(), AddressInput{SingleLine: "10 Main St"})
	require.NoError(t, err)

	assert.Equal(t, "exact", r.MatchedAddress)
	assert.Equal(t, 98.0, r.Score)
}

func TestGeocodeServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"error":{"code":498,"message":"Invalid token"}}`)
	}))
	defer srv.Close()

	l := NewLocator(srv.URL, WithToken("expired"))
	_, err := l.Geocode(context.Background(), AddressInput{SingleLine: "anywhere"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid token")
}

func TestBatchGeocode(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		calls.Add(1)
		if r.Form.Get("SingleLine") == "nowhere" {
			fmt.Fprint(w, `{"candidates":[]}`)
			return
		}
		fmt.Fprint(w, `{"candidates":[{"address":"ok","location":{"x":1,"y":2},"score":95,
			"attributes":{"Status":"M","Addr_type":"StreetAddress"}}]}`)
	}))
	defer srv.Close()

	l := NewLocator(srv.URL, WithBatchConcurrency(2))
	results, err := l.BatchGeocode(context.Background(), []AddressInput{
		{SingleLine: "10 Main St"},
		{SingleLine: "nowhere"},
		{SingleLine: "20 Oak St"},
	})
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.True(t, results[0].Matched)
	assert.False(t, results[1].Matched)
	assert.True(t, results[2].Matched)
	assert.Equal(t, int64(3), calls.Load())
}

func TestBatchGeocodeEmpty(t *testing.T) {
	l := NewLocator("http://unused.invalid")
	results, err := l.BatchGeocode(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, results)
}

func TestResultAccepted(t *testing.T) {
	tests := []struct {
		name    string
		result  Result
		allowed []string
		want    bool
	}{
		{
			name:   "matched point address",
			result: Result{Matched: true, Status: StatusMatched, AddrType: "PointAddress"},
			want:   true,
		},
		{
			name:   "tied street address",
			result: Result{Matched: true, Status: StatusTied, AddrType: "StreetAddress"},
			want:   true,
		},
		{
			name:   "unmatched",
			result: Result{Matched: false, Status: StatusUnmatched},
			want:   false,
		},
		{
			name:   "coarse address type",
			result: Result{Matched: true, Status: StatusMatched, AddrType: "Locality"},
			want:   false,
		},
		{
			name:    "custom allow list",
			result:  Result{Matched: true, Status: StatusMatched, AddrType: "Locality"},
			allowed: []string{"Locality"},
			want:    true,
		},
		{
			name:    "custom allow list excludes default",
			result:  Result{Matched: true, Status: StatusMatched, AddrType: "PointAddress"},
			allowed: []string{"Locality"},
			want:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.result.Accepted(tt.allowed))
		})
	}
}

func TestFilterResults(t *testing.T) {
	results := []Result{
		{Matched: true, Status: StatusMatched, AddrType: "PointAddress"},
		{Matched: false, Status: StatusUnmatched},
		{Matched: true, Status: StatusTied, AddrType: "StreetAddress"},
		{Matched: true, Status: StatusMatched, AddrType: "Locality"},
	}

	accepted, rejected := FilterResults(results, nil)
	assert.Equal(t, []int{0, 2}, accepted)
	assert.Equal(t, []int{1, 3}, rejected)
}
