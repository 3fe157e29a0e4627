package dbadmin

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateNameAcceptsAndRejects(t *testing.T) {
	require.NoError(t, validateName("database", "mydb"))
	require.NoError(t, validateName("database", "a1"))
	require.Error(t, validateName("database", "1db")) // must start with a letter
	require.Error(t, validateName("database", "x")) // single char: no room for both first and last char groups
	require.Error(t, validateName("database", "bad.name"))
	require.Error(t, validateName("database", ""))
}

func TestApplyDefaultsFillsOnlyMissingFields(t *testing.T) {
	req := NewDatabaseRequest{DBName: "db1", BufferSize: 2048}
	applyDefaults(&req)
	require.Equal(t, DefaultTimePrecision, req.TimePrecision)
	require.Equal(t, 2048, req.BufferSize)
	require.Equal(t, DefaultDurationNum, req.DurationNum)
	require.Equal(t, DefaultDurationLog, req.DurationLog)
}

func TestValidateNewDatabaseRequestSchema(t *testing.T) {
	_, err := ValidateNewDatabaseRequest([]byte(`{"dbname": "mydb"}`))
	require.NoError(t, err)

	_, err = ValidateNewDatabaseRequest([]byte(`{"dbname": "bad name"}`))
	require.Error(t, err)

	_, err = ValidateNewDatabaseRequest([]byte(`{}`))
	require.Error(t, err)
}

func TestValidateNewDatabaseRequestBufferSizeMustBeMultipleOf512(t *testing.T) {
	_, err := ValidateNewDatabaseRequest([]byte(`{"dbname": "mydb", "buffer_size": 1024}`))
	require.NoError(t, err)

	_, err = ValidateNewDatabaseRequest([]byte(`{"dbname": "mydb", "buffer_size": 500}`))
	require.Error(t, err)

	_, err = ValidateNewDatabaseRequest([]byte(`{"dbname": "mydb", "buffer_size": 300}`))
	require.Error(t, err)
}

func TestRollbackNewDatabaseIdempotent(t *testing.T) {
	a := &Admin{DataDir: t.TempDir()}
	// Directory was never created; rollback must not panic or error loudly.
	a.RollbackNewDatabase("never-existed")
}
