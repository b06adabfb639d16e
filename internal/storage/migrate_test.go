package storage

import (
	"fmt"
	"strings"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsDuplicateIndex(t *testing.T) {
	dup := &mysql.MySQLError{Number: 1061, Message: "Duplicate key name 'idx_accounts_bnet_id'"}
	assert.True(t, isDuplicateIndex(dup))
	assert.True(t, isDuplicateIndex(fmt.Errorf("exec: %w", dup)))
	assert.False(t, isDuplicateIndex(&mysql.MySQLError{Number: 1064, Message: "syntax error"}))
	assert.False(t, isDuplicateIndex(fmt.Errorf("no such table")))
}

func TestMySQLSchemaIsPortable(t *testing.T) {
	data, err := schemaFS.ReadFile("schema/mysql.sql")
	require.NoError(t, err)

	for _, stmt := range strings.Split(string(data), ";") {
		stmt = strings.TrimSpace(stmt)
		switch {
		case strings.HasPrefix(stmt, "CREATE TABLE"):
			assert.True(t, strings.HasPrefix(stmt, "CREATE TABLE IF NOT EXISTS"), firstLine(stmt))
		case strings.Contains(stmt, "INDEX"):
			assert.NotContains(t, stmt, "IF NOT EXISTS", "MySQL rejects it on CREATE INDEX")
		}
	}
}
