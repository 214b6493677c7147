package database

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coreconfig "github.com/m3rciful/storylens/core/config"
)

func TestURLEscapesCredentials(t *testing.T) {
	cfg := coreconfig.DatabaseConfig{
		Host: "db", Port: "5432", User: "bot", Password: "p@ss/word", Name: "storylens", SSLMode: "disable",
	}
	assert.Equal(t, "postgres://bot:p%40ss%2Fword@db:5432/storylens?sslmode=disable", URL(cfg))
	assert.Equal(t, "user=bot password=p@ss/word host=db port=5432 dbname=storylens sslmode=disable", DSN(cfg))
}

func TestListAndSelectApplied(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{
		"0002_index.up.sql", "0001_user_states.up.sql", "0001_user_states.down.sql", "0003_more.up.sql",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("--"), 0o644))
	}

	files := listMigrationFiles(dir)
	assert.Equal(t, []string{"0001_user_states.up.sql", "0002_index.up.sql", "0003_more.up.sql"}, files)
	assert.Equal(t, []string{"0002_index.up.sql", "0003_more.up.sql"}, appliedBetween(files, 1, 3))
	assert.Empty(t, appliedBetween(files, 3, 3))
	assert.Nil(t, listMigrationFiles(filepath.Join(dir, "missing")))
}
