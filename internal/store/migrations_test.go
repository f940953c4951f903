package store

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitStatements_Basic(t *testing.T) {
	script := `CREATE TABLE a (id INTEGER);
CREATE TABLE b (id INTEGER);`

	stmts := splitStatements(script)
	require.Len(t, stmts, 2)
	assert.Contains(t, stmts[0], "CREATE TABLE a")
	assert.Contains(t, stmts[1], "CREATE TABLE b")
}

func TestSplitStatements_SkipsCommentOnlyChunks(t *testing.T) {
	script := `-- header comment
CREATE TABLE a (id INTEGER);
-- trailing comment only;
`

	stmts := splitStatements(script)
	require.Len(t, stmts, 1)
	assert.Contains(t, stmts[0], "CREATE TABLE a")
}

func TestSplitStatements_Empty(t *testing.T) {
	assert.Empty(t, splitStatements(""))
	assert.Empty(t, splitStatements("  ;\n ; "))
}

func TestMigration001_Embedded(t *testing.T) {
	require.NotEmpty(t, migration001)

	stmts := splitStatements(migration001)
	require.NotEmpty(t, stmts)

	joined := strings.ToLower(strings.Join(stmts, "\n"))
	for _, table := range []string{"runs", "tasks", "events", "executors", "scheduled_jobs"} {
		assert.Contains(t, joined, "create table if not exists "+table)
	}
	assert.Contains(t, joined, "idx_runs_dedupe_key")
}

func TestMigrations_VersionsAscending(t *testing.T) {
	last := 0
	for _, m := range migrations {
		assert.Greater(t, m.Version, last)
		assert.NotEmpty(t, m.Name)
		assert.NotEmpty(t, m.SQL)
		last = m.Version
	}
}
