package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMigrations(t *testing.T) {
	ms, err := loadMigrations()
	require.NoError(t, err)
	require.NotEmpty(t, ms)

	assert.Equal(t, 1, ms[0].version)
	assert.Equal(t, "initial_schema", ms[0].name)
	assert.Contains(t, ms[0].script, "CREATE TABLE")

	for i := 1; i < len(ms); i++ {
		assert.Greater(t, ms[i].version, ms[i-1].version)
	}
}

func TestParseMigrationName(t *testing.T) {
	version, name, err := parseMigrationName("001_initial_schema.sql")
	require.NoError(t, err)
	assert.Equal(t, 1, version)
	assert.Equal(t, "initial_schema", name)

	version, name, err = parseMigrationName("012_add_audit_indexes.sql")
	require.NoError(t, err)
	assert.Equal(t, 12, version)
	assert.Equal(t, "add_audit_indexes", name)

	for _, bad := range []string{
		"notes.txt",
		"initial_schema.sql",
		"abc_initial.sql",
		"000_zero.sql",
		"001_.sql",
	} {
		_, _, err := parseMigrationName(bad)
		assert.Error(t, err, "filename %q", bad)
	}
}

func TestSQLStatements(t *testing.T) {
	script := `-- executions table
CREATE TABLE executions (id TEXT PRIMARY KEY);

CREATE INDEX idx_exec ON executions (id);
-- trailing comment
`
	stmts := sqlStatements(script)
	require.Len(t, stmts, 2)
	assert.Equal(t, "CREATE TABLE executions (id TEXT PRIMARY KEY)", stmts[0])
	assert.Equal(t, "CREATE INDEX idx_exec ON executions (id)", stmts[1])

	assert.Empty(t, sqlStatements("-- only comments\n-- nothing else"))
}
