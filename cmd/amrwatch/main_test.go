package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewired-gh/amrwatch/internal/analysis"
	"github.com/rewired-gh/amrwatch/internal/config"
	"github.com/rewired-gh/amrwatch/internal/storage"
)

func testEnv(t *testing.T) *env {
	t.Helper()

	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Store.DSN = filepath.Join(t.TempDir(), "micro.db")
	cfg.Export.Dir = filepath.Join(t.TempDir(), "exports")
	cfg.Analysis.TopOrganisms = 0

	db := sqlx.MustOpen("sqlite", cfg.Store.DSN)
	db.MustExec(`CREATE TABLE micro_test (datetime TEXT, inpatient_ward_name TEXT, micro_test_name TEXT, test_result_other TEXT)`)
	for d := 1; d <= 9; d++ {
		db.MustExec(`INSERT INTO micro_test VALUES (?, 'Ward1(North)', 'E. coli', 'S')`, fmt.Sprintf("2024-02-%02d 08:00:00", d))
	}
	db.MustExec(`INSERT INTO micro_test VALUES ('2024-02-10 08:00:00', 'Ward1(North)', 'E. coli', 'R')`)
	db.MustExec(`INSERT INTO micro_test VALUES ('2024-02-01 08:00:00', 'Ward1(South)', 'S. aureus', 'R')`)
	require.NoError(t, db.Close())

	store, err := storage.Open(cfg.Store.Driver, cfg.Store.DSN, schemaFrom(cfg), cfg.Store.MaxOpenConns)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return &env{cfg: cfg, store: store}
}

func TestParamsFrom(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, analysis.DefaultParams(), paramsFrom(cfg))
	assert.Equal(t, storage.DefaultSchema(), schemaFrom(cfg))
}

func TestParseDay(t *testing.T) {
	d, err := parseDay("2024-02-29")
	require.NoError(t, err)
	assert.Equal(t, 29, d.Day())

	d, err = parseDay("")
	require.NoError(t, err)
	assert.True(t, d.IsZero())

	_, err = parseDay("29/02/2024")
	assert.Error(t, err)
}

func TestRunBatch(t *testing.T) {
	e := testEnv(t)
	xlsx := filepath.Join(t.TempDir(), "run.xlsx")

	var out bytes.Buffer
	err := runBatch(context.Background(), e, runOptions{top: -1, xlsx: xlsx, export: true}, &out)
	require.NoError(t, err)

	assert.Contains(t, out.String(), "active alerts: 1")
	assert.Contains(t, out.String(), "2024-02-10")
	assert.Contains(t, out.String(), "North")

	_, err = os.Stat(xlsx)
	assert.NoError(t, err)
	exported, err := filepath.Glob(filepath.Join(e.cfg.Export.Dir, "amrwatch-*.xlsx"))
	require.NoError(t, err)
	assert.Len(t, exported, 1)
}

func TestRunBatch_JSONWithFilters(t *testing.T) {
	e := testEnv(t)

	var out bytes.Buffer
	opts := runOptions{top: -1, organisms: []string{"S. aureus"}, json: true}
	require.NoError(t, runBatch(context.Background(), e, opts, &out))
	assert.Contains(t, out.String(), `"organism": "S. aureus"`)
	assert.NotContains(t, out.String(), `"organism": "E. coli"`)
}

func TestRunBatch_TopOrganisms(t *testing.T) {
	e := testEnv(t)

	var out bytes.Buffer
	require.NoError(t, runBatch(context.Background(), e, runOptions{top: 1, json: true}, &out))
	assert.Contains(t, out.String(), `"organism": "E. coli"`)
	assert.NotContains(t, out.String(), `"organism": "S. aureus"`)
}

func TestRunBatch_InvalidRange(t *testing.T) {
	e := testEnv(t)
	err := runBatch(context.Background(), e, runOptions{top: -1, start: "2024-03-01", end: "2024-02-01"}, &bytes.Buffer{})
	assert.ErrorIs(t, err, analysis.ErrInvalidConfig)
}
