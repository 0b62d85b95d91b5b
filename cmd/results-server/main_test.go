package main

import (
	"net/http"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/terrain.report/internal/db"
	"github.com/banshee-data/terrain.report/internal/monitoring"
	"github.com/banshee-data/terrain.report/internal/testutil"
)

func TestFlagDefaults(t *testing.T) {
	assert.Equal(t, ":8080", *listen)
	assert.Equal(t, "results.db", *dbPath)
	assert.False(t, *showVersion)
}

func TestNewHandler(t *testing.T) {
	orig := monitoring.Logf
	monitoring.SetLogger(nil)
	t.Cleanup(func() { monitoring.SetLogger(orig) })

	database, err := db.NewDB(filepath.Join(t.TempDir(), "results.db"))
	require.NoError(t, err)
	defer database.Close()

	h, err := newHandler(database)
	require.NoError(t, err)

	w := testutil.Get(t, h, "/api/runs")
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	assert.JSONEq(t, "[]", w.Body.String())

	w = testutil.Get(t, h, "/api/run?run_id=missing")
	testutil.AssertStatusCode(t, w.Code, http.StatusNotFound)
}
