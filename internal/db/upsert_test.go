package db

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBulkUpsert_EmptyRows(t *testing.T) {
	n, err := BulkUpsert(context.Background(), nil, UpsertConfig{
		Table:        "client_ng_companies",
		Columns:      []string{"client_id", "company_name"},
		ConflictKeys: []string{"client_id", "company_name"},
	}, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestBulkUpsert_NoColumns(t *testing.T) {
	_, err := BulkUpsert(context.Background(), nil, UpsertConfig{
		Table:        "client_ng_companies",
		ConflictKeys: []string{"id"},
	}, [][]any{{1, "a"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no columns specified")
}

func TestBulkUpsert_NoConflictKeys(t *testing.T) {
	_, err := BulkUpsert(context.Background(), nil, UpsertConfig{
		Table:   "client_ng_companies",
		Columns: []string{"id", "name"},
	}, [][]any{{1, "a"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no conflict keys specified")
}

func TestBulkUpsert_DoNothing(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer mock.Close()

	cols := []string{"client_id", "company_name", "normalized_name", "reason"}
	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE "_tmp_upsert_client_ng_companies"`).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_client_ng_companies"}, cols).
		WillReturnResult(2)
	mock.ExpectExec(`ON CONFLICT \("client_id", "company_name"\) DO NOTHING`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	n, err := BulkUpsert(context.Background(), mock, UpsertConfig{
		Table:        "client_ng_companies",
		Columns:      cols,
		ConflictKeys: []string{"client_id", "company_name"},
		DoNothing:    true,
	}, [][]any{
		{int64(1), "Acme", "acme", ""},
		{int64(1), "Globex", "globex", "競合企業のため"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetClauses(t *testing.T) {
	got := setClauses(UpsertConfig{
		Columns:      []string{"client_id", "company_name", "reason"},
		ConflictKeys: []string{"client_id", "company_name"},
	})
	assert.Equal(t, []string{`"reason" = EXCLUDED."reason"`}, got)

	got = setClauses(UpsertConfig{
		Columns:      []string{"a", "b", "c"},
		ConflictKeys: []string{"a"},
		UpdateCols:   []string{"c"},
	})
	assert.Equal(t, []string{`"c" = EXCLUDED."c"`}, got)
}

func TestSanitizeTable(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"simple", `"simple"`},
		{"public.client_ng_companies", `"public"."client_ng_companies"`},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := sanitizeTable(tt.input)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestQuoteAndJoin(t *testing.T) {
	result := quoteAndJoin([]string{"id", "name", "value"})
	assert.Equal(t, `"id", "name", "value"`, result)
}
