package model

import "time"

// TimestampLayout is fixed width so that last_scanned values order
// lexically in SQL the same way they order in time.
const TimestampLayout = "2006-01-02T15:04:05.000000Z07:00"

// Workload is one watched container, identified by (name, namespace).
type Workload struct {
	Name            string       `json:"name" validate:"required"`
	Namespace       string       `json:"namespace" validate:"required"`
	Image           string       `json:"image" validate:"required"`
	CurrentVersion  string       `json:"current_version"`
	LatestVersion   string       `json:"latest_version"`
	IncludePattern  *string      `json:"include_pattern"`
	ExcludePattern  *string      `json:"exclude_pattern"`
	GitOpsRepo      *string      `json:"git_ops_repo"`
	GitDirectory    *string      `json:"git_directory"`
	UpdateAvailable UpdateStatus `json:"update_available"`
	LastScanned     string       `json:"last_scanned"`
}

// Directory is the repository subpath searched for manifests. It defaults to
// the workload name.
func (w Workload) Directory() string {
	if w.GitDirectory == nil || *w.GitDirectory == "" {
		return w.Name
	}
	return *w.GitDirectory
}

func (w Workload) RepoName() string {
	if w.GitOpsRepo == nil {
		return ""
	}
	return *w.GitOpsRepo
}

func (w *Workload) MarkScanned(t time.Time) {
	w.LastScanned = FormatTimestamp(t)
}

func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// StringPtr returns nil for the empty string so that absent annotations are
// stored as NULL rather than "".
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
