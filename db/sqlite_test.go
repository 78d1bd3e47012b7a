package db

import (
	"path/filepath"
	"testing"
	"time"

	"hsi-cores/hsi"
	"hsi-cores/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLite(t *testing.T) *SQLiteClient {
	t.Helper()
	client, err := NewSQLiteClient(filepath.Join(t.TempDir(), "data", "test.sqlite3"))
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func libraryEntry(label string, values ...float64) hsi.LibraryEntry {
	wl := make([]float64, len(values))
	for i := range wl {
		wl[i] = 2100 + float64(i)*50
	}
	return hsi.LibraryEntry{Label: label, Category: "mineral", Wavelengths: wl, Values: values, Source: "usgs"}
}

func TestSQLiteLibraryRoundTrip(t *testing.T) {
	client := newTestSQLite(t)

	kaolinite := libraryEntry("kaolinite", 0.6, 0.4, 0.55)
	kaolinite.Metadata = map[string]string{"formula": "Al2Si2O5(OH)4"}
	require.NoError(t, client.StoreLibraryEntries([]hsi.LibraryEntry{
		libraryEntry("chlorite", 0.5, 0.5, 0.3),
		kaolinite,
	}))

	entries, err := client.GetLibrary()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "chlorite", entries[0].Label)
	assert.Equal(t, "kaolinite", entries[1].Label)
	assert.NotEmpty(t, entries[0].ID)
	assert.Equal(t, []float64{0.6, 0.4, 0.55}, entries[1].Values)
	assert.Equal(t, []float64{2100, 2150, 2200}, entries[1].Wavelengths)
	assert.Equal(t, "Al2Si2O5(OH)4", entries[1].Metadata["formula"])
	assert.Nil(t, entries[0].Metadata)
	assert.Equal(t, "usgs", entries[0].Source)
}

func TestSQLiteStoreReplacesByID(t *testing.T) {
	client := newTestSQLite(t)

	e := libraryEntry("calcite", 0.7, 0.6, 0.2)
	e.ID = "calcite-1"
	require.NoError(t, client.StoreLibraryEntries([]hsi.LibraryEntry{e}))
	e.Values = []float64{0.7, 0.6, 0.3}
	require.NoError(t, client.StoreLibraryEntries([]hsi.LibraryEntry{e}))

	entries, err := client.GetLibrary()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 0.3, entries[0].Values[2])
}

func TestSQLiteStoreRejectsInvalidEntryAtomically(t *testing.T) {
	client := newTestSQLite(t)

	err := client.StoreLibraryEntries([]hsi.LibraryEntry{
		libraryEntry("chlorite", 0.5, 0.5, 0.3),
		{Label: "", Values: []float64{1}},
	})
	require.Error(t, err)

	entries, err := client.GetLibrary()
	require.NoError(t, err)
	assert.Empty(t, entries, "a failed batch must not leave partial rows")
}

func TestSQLiteDeleteLibraryLabel(t *testing.T) {
	client := newTestSQLite(t)
	require.NoError(t, client.StoreLibraryEntries([]hsi.LibraryEntry{
		libraryEntry("kaolinite", 0.6, 0.4, 0.55),
		libraryEntry("kaolinite", 0.61, 0.41, 0.56),
		libraryEntry("chlorite", 0.5, 0.5, 0.3),
	}))

	n, err := client.DeleteLibraryLabel(" kaolinite ")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	entries, err := client.GetLibrary()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "chlorite", entries[0].Label)
}

func TestSQLiteRuns(t *testing.T) {
	client := newTestSQLite(t)
	base := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

	for i, input := range []string{"core_a.hdr", "core_b.h5", "core_c.mat"} {
		run := &models.AnalysisRun{
			Input:       input,
			Format:      "envi",
			StartedAt:   base.Add(time.Duration(i) * time.Minute),
			ClassCounts: map[string]int{"kaolinite": i},
			IndexStats:  []models.IndexStat{{Name: "NDVI", Min: -0.1, Max: 0.4, Valid: 10}},
		}
		require.NoError(t, client.StoreRun(run))
		assert.NotEmpty(t, run.ID)
	}

	runs, err := client.GetRuns(2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "core_c.mat", runs[0].Input)
	assert.Equal(t, "core_b.h5", runs[1].Input)
	assert.Equal(t, 2, runs[0].ClassCounts["kaolinite"])
	assert.True(t, runs[0].StartedAt.Equal(base.Add(2*time.Minute)))

	all, err := client.GetRuns(0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestNewDBClientUnknownBackend(t *testing.T) {
	t.Setenv("DB_TYPE", "cassandra")
	_, err := NewDBClient()
	require.ErrorIs(t, err, ErrUnknownBackend)
}

func TestNewDBClientDefaultsToSQLite(t *testing.T) {
	t.Setenv("DB_TYPE", "")
	t.Setenv("SQLITE_PATH", filepath.Join(t.TempDir(), "hsi.sqlite3"))
	client, err := NewDBClient()
	require.NoError(t, err)
	defer client.Close()
	_, ok := client.(*SQLiteClient)
	assert.True(t, ok)
}
