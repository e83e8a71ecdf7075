package history

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"
	"gorm.io/gorm"

	database "github.com/tagwatch/tagwatch/internal/db"
	"github.com/tagwatch/tagwatch/internal/logging"
	"github.com/tagwatch/tagwatch/internal/model"
)

// latestSnapshotsQuery keeps, per scan_type, the rows of the highest scan_id
// and then, per (name, namespace), the most recent last_scanned among them.
const latestSnapshotsQuery = `
WITH max_scan AS (
    SELECT scan_type, MAX(scan_id) AS max_scan_id
    FROM workloads
    GROUP BY scan_type
),
latest_scan AS (
    SELECT w.*
    FROM workloads w
    JOIN max_scan ms ON w.scan_type = ms.scan_type AND w.scan_id = ms.max_scan_id
),
max_scanned AS (
    SELECT name, namespace, MAX(last_scanned) AS max_last_scanned
    FROM latest_scan
    GROUP BY name, namespace
)
SELECT l.*
FROM latest_scan l
JOIN max_scanned m ON l.name = m.name AND l.namespace = m.namespace AND l.last_scanned = m.max_last_scanned
ORDER BY l.id`

// Store is the append-only scan history. Rows are only ever inserted.
type Store struct {
	db     *gorm.DB
	driver string
}

func NewStore(db *gorm.DB, driver string) *Store {
	return &Store{db: db, driver: driver}
}

// isBusy reports whether sqlite rejected the statement because another
// process holds the database lock.
func isBusy(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && (se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked)
}

func persistenceError(op string, err error) error {
	dbError.Inc()
	if isBusy(err) {
		logging.GetLogger().Warnf("%s: history database is locked by another writer", op)
	}
	return fmt.Errorf("%w: %s: %w", model.ErrPersistence, op, err)
}

// EnsureSchema creates the workloads table when missing. It is safe to call
// on every start.
func (s *Store) EnsureSchema() error {
	if err := database.Migrate(s.db, s.driver); err != nil {
		return persistenceError("ensure schema", err)
	}
	return nil
}

// NextScanID returns max(scan_id)+1, or 1 for an empty history. Call it once
// per scan so every workload of the scan shares the id.
func (s *Store) NextScanID() (int, error) {
	var maxID sql.NullInt64
	if err := s.db.Raw("SELECT MAX(scan_id) FROM workloads").Row().Scan(&maxID); err != nil {
		return 0, persistenceError("next scan id", err)
	}
	return int(maxID.Int64) + 1, nil
}

func (s *Store) Record(w model.Workload, scanID int) error {
	record := model.NewScanRecord(w, scanID)
	if err := s.db.Create(&record).Error; err != nil {
		return persistenceError("record snapshot", err)
	}
	return nil
}

func (s *Store) LatestSnapshot(name, namespace string) (model.Workload, error) {
	var record model.ScanRecord
	err := s.db.
		Where("name = ? AND namespace = ?", name, namespace).
		Order("scan_id DESC, last_scanned DESC, id DESC").
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Workload{}, fmt.Errorf("%w: workload %s/%s", model.ErrNotFound, namespace, name)
	}
	if err != nil {
		return model.Workload{}, persistenceError("latest snapshot", err)
	}
	return record.Workload(), nil
}

func (s *Store) LatestSnapshotsAll() ([]model.Workload, error) {
	var records []model.ScanRecord
	if err := s.db.Raw(latestSnapshotsQuery).Scan(&records).Error; err != nil {
		return nil, persistenceError("latest snapshots", err)
	}

	// Rows tied on last_scanned collapse onto the newest insert.
	type key struct{ name, namespace string }
	index := make(map[key]int, len(records))
	workloads := make([]model.Workload, 0, len(records))
	for _, r := range records {
		k := key{r.Name, r.Namespace}
		if i, ok := index[k]; ok {
			workloads[i] = r.Workload()
			continue
		}
		index[k] = len(workloads)
		workloads = append(workloads, r.Workload())
	}
	return workloads, nil
}

// History lists every snapshot of one workload, newest first.
func (s *Store) History(name, namespace string) ([]model.ScanRecord, error) {
	var records []model.ScanRecord
	err := s.db.
		Where("name = ? AND namespace = ?", name, namespace).
		Order("scan_id DESC, id DESC").
		Find(&records).Error
	if err != nil {
		return nil, persistenceError("history", err)
	}
	return records, nil
}

// Records returns the whole log in insertion order.
func (s *Store) Records() ([]model.ScanRecord, error) {
	var records []model.ScanRecord
	if err := s.db.Order("id").Find(&records).Error; err != nil {
		return nil, persistenceError("records", err)
	}
	return records, nil
}
