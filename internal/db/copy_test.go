package db

import (
	"context"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCopyFrom_EmptyRows(t *testing.T) {
	n, err := CopyFrom(context.TODO(), nil, "sms_transactions", []string{"id", "amount"}, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestCopyFrom_Success(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"data_source_certainty"}, []string{"source_type", "label"}).WillReturnResult(2)

	rows := [][]any{{"declared", "Declared"}, {"sms_parsed", "SMS"}}
	n, err := CopyFrom(context.Background(), mock, "data_source_certainty", []string{"source_type", "label"}, rows)
	assert.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCopyFrom_Error(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"data_source_certainty"}, []string{"source_type"}).WillReturnError(fmt.Errorf("permission denied"))

	_, err = CopyFrom(context.Background(), mock, "data_source_certainty", []string{"source_type"}, [][]any{{"declared"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COPY INTO data_source_certainty")
	assert.NoError(t, mock.ExpectationsWereMet())
}
