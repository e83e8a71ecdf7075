package model

// ScanRecord is one append-only row of the workloads table: a Workload
// snapshot tagged with the scan that produced it.
type ScanRecord struct {
	ID              uint         `gorm:"primaryKey;not null;autoIncrement" json:"id"`
	Name            string       `gorm:"type:text;not null" json:"name"`
	Image           string       `gorm:"type:text;not null" json:"image"`
	Namespace       string       `gorm:"type:text;not null" json:"namespace"`
	GitOpsRepo      *string      `gorm:"column:git_ops_repo;type:text" json:"git_ops_repo"`
	IncludePattern  *string      `gorm:"column:include_pattern;type:text" json:"include_pattern"`
	ExcludePattern  *string      `gorm:"column:exclude_pattern;type:text" json:"exclude_pattern"`
	UpdateAvailable UpdateStatus `gorm:"column:update_available;type:text" json:"update_available"`
	CurrentVersion  string       `gorm:"column:current_version;type:text;not null" json:"current_version"`
	LatestVersion   string       `gorm:"column:latest_version;type:text;not null" json:"latest_version"`
	LastScanned     string       `gorm:"column:last_scanned;type:text;not null" json:"last_scanned"`
	ScanID          int          `gorm:"column:scan_id" json:"scan_id"`
	ScanType        string       `gorm:"column:scan_type;type:text" json:"scan_type"`
	GitDirectory    *string      `gorm:"column:git_directory;type:text" json:"git_directory"`
}

func (ScanRecord) TableName() string {
	return "workloads"
}

// NewScanRecord snapshots w under scanID. Snapshots of the same named
// workload share a scan_type.
func NewScanRecord(w Workload, scanID int) ScanRecord {
	return ScanRecord{
		Name:            w.Name,
		Image:           w.Image,
		Namespace:       w.Namespace,
		GitOpsRepo:      w.GitOpsRepo,
		IncludePattern:  w.IncludePattern,
		ExcludePattern:  w.ExcludePattern,
		UpdateAvailable: w.UpdateAvailable,
		CurrentVersion:  w.CurrentVersion,
		LatestVersion:   w.LatestVersion,
		LastScanned:     w.LastScanned,
		ScanID:          scanID,
		ScanType:        w.Name,
		GitDirectory:    w.GitDirectory,
	}
}

func (r ScanRecord) Workload() Workload {
	return Workload{
		Name:            r.Name,
		Namespace:       r.Namespace,
		Image:           r.Image,
		CurrentVersion:  r.CurrentVersion,
		LatestVersion:   r.LatestVersion,
		IncludePattern:  r.IncludePattern,
		ExcludePattern:  r.ExcludePattern,
		GitOpsRepo:      r.GitOpsRepo,
		GitDirectory:    r.GitDirectory,
		UpdateAvailable: r.UpdateAvailable,
		LastScanned:     r.LastScanned,
	}
}
