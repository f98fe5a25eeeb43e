package db

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCopyFromEmptyRows(t *testing.T) {
	n, err := CopyFrom(context.Background(), nil, "gis.incidents", []string{"id"}, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestCopyFrom(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"gis", "incidents"}, []string{"id", "address"}).WillReturnResult(2)

	n, err := CopyFrom(context.Background(), mock, "gis.incidents", []string{"id", "address"}, [][]any{
		{int64(1), "1 Main St"},
		{int64(2), "2 Main St"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTableIdentifier(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"incidents", `"incidents"`},
		{"gis.incidents", `"gis"."incidents"`},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, SanitizeTable(tt.input))
		})
	}
}

func TestQuoteAndJoin(t *testing.T) {
	assert.Equal(t, `"id", "report_dt"`, QuoteAndJoin([]string{"id", "report_dt"}))
}
