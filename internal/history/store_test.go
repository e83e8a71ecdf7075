package history

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	database "github.com/tagwatch/tagwatch/internal/db"
	"github.com/tagwatch/tagwatch/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	gdb, err := database.Open(database.DriverSQLite, filepath.Join(t.TempDir(), "data.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			sqlDB.Close()
		}
	})
	store := NewStore(gdb, database.DriverSQLite)
	require.NoError(t, store.EnsureSchema())
	return store
}

func workloadAt(name, namespace, current string, scanned time.Time) model.Workload {
	w := model.Workload{
		Name:           name,
		Namespace:      namespace,
		Image:          "registry.example.com/" + name + ":" + current,
		CurrentVersion: current,
	}
	w.MarkScanned(scanned)
	return w
}

func TestEnsureSchemaIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	assert.NoError(t, store.EnsureSchema())
	assert.NoError(t, store.EnsureSchema())
}

func TestNextScanID(t *testing.T) {
	store := newTestStore(t)
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	id, err := store.NextScanID()
	require.NoError(t, err)
	assert.Equal(t, 1, id)

	for scan := 1; scan <= 3; scan++ {
		require.NoError(t, store.Record(workloadAt("web", "prod", "1.0.0", base.Add(time.Duration(scan)*time.Minute)), scan))
		require.NoError(t, store.Record(workloadAt("api", "prod", "1.0.0", base.Add(time.Duration(scan)*time.Minute)), scan))

		next, err := store.NextScanID()
		require.NoError(t, err)
		assert.Equal(t, scan+1, next)
	}
}

func TestRecordRoundTrip(t *testing.T) {
	store := newTestStore(t)
	w := model.Workload{
		Name:            "web",
		Namespace:       "prod",
		Image:           "nginx:1.2.0",
		CurrentVersion:  "1.2.0",
		LatestVersion:   "v1.3.0",
		IncludePattern:  model.StringPtr(`^v?\d+\.\d+\.\d+$`),
		GitOpsRepo:      model.StringPtr("infra"),
		GitDirectory:    model.StringPtr("apps/web"),
		UpdateAvailable: model.Available,
	}
	w.MarkScanned(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC))

	require.NoError(t, store.Record(w, 1))

	got, err := store.LatestSnapshot("web", "prod")
	require.NoError(t, err)
	if diff := cmp.Diff(w, got); diff != "" {
		t.Error(diff)
	}
}

func TestLatestSnapshotNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.LatestSnapshot("missing", "prod")
	assert.True(t, errors.Is(err, model.ErrNotFound), "got %v", err)
}

func TestLatestSnapshotPrefersNewestScan(t *testing.T) {
	store := newTestStore(t)
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, store.Record(workloadAt("web", "prod", "1.0.0", base), 1))
	require.NoError(t, store.Record(workloadAt("web", "prod", "1.1.0", base.Add(time.Hour)), 2))

	got, err := store.LatestSnapshot("web", "prod")
	require.NoError(t, err)
	assert.Equal(t, "1.1.0", got.CurrentVersion)
}

func TestLatestSnapshotsAllKeepsOnePerWorkload(t *testing.T) {
	store := newTestStore(t)
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, store.Record(workloadAt("web", "prod", "1.0.0", base), 1))
	require.NoError(t, store.Record(workloadAt("api", "prod", "2.0.0", base), 1))
	require.NoError(t, store.Record(workloadAt("web", "prod", "1.1.0", base.Add(time.Hour)), 2))
	require.NoError(t, store.Record(workloadAt("api", "prod", "2.1.0", base.Add(time.Hour)), 2))
	// Same scan, same timestamp: a tie that must still collapse to one row.
	require.NoError(t, store.Record(workloadAt("api", "prod", "2.2.0", base.Add(time.Hour)), 2))

	got, err := store.LatestSnapshotsAll()
	require.NoError(t, err)

	versions := map[string]string{}
	for _, w := range got {
		key := w.Namespace + "/" + w.Name
		_, seen := versions[key]
		assert.False(t, seen, "duplicate snapshot for %s", key)
		versions[key] = w.CurrentVersion
	}
	expected := map[string]string{
		"prod/web": "1.1.0",
		"prod/api": "2.2.0",
	}
	if diff := cmp.Diff(expected, versions); diff != "" {
		t.Error(diff)
	}
}

func TestLatestSnapshotsAllEmpty(t *testing.T) {
	store := newTestStore(t)

	got, err := store.LatestSnapshotsAll()
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestHistoryNewestFirst(t *testing.T) {
	store := newTestStore(t)
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, store.Record(workloadAt("web", "prod", "1.0.0", base), 1))
	require.NoError(t, store.Record(workloadAt("web", "staging", "1.0.0", base), 1))
	require.NoError(t, store.Record(workloadAt("web", "prod", "1.1.0", base.Add(time.Hour)), 2))

	records, err := store.History("web", "prod")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, 2, records[0].ScanID)
	assert.Equal(t, 1, records[1].ScanID)
	assert.Equal(t, "web", records[0].ScanType)

	all, err := store.Records()
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestPersistenceErrorClassifiesLocks(t *testing.T) {
	busy := fmt.Errorf("insert: %w", sqlite3.Error{Code: sqlite3.ErrBusy})
	assert.True(t, isBusy(busy))
	assert.False(t, isBusy(errors.New("no such table: workloads")))

	err := persistenceError("record snapshot", busy)
	assert.True(t, errors.Is(err, model.ErrPersistence))
	assert.Contains(t, err.Error(), "record snapshot")
}
