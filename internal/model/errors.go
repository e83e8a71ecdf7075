package model

import "errors"

// Error categories. Components wrap their concrete failures with one of
// these so callers can decide with errors.Is whether a failure is local to
// a workload or fatal.
var (
	ErrConfiguration = errors.New("configuration error")
	ErrRegistry      = errors.New("registry error")
	ErrRemediation   = errors.New("remediation error")
	ErrPersistence   = errors.New("persistence error")
	ErrScheduling    = errors.New("scheduling error")
)

// ErrNotFound is returned by snapshot lookups that match no row.
var ErrNotFound = errors.New("not found")

// ErrorKind names the category of err for logs and metric labels.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrConfiguration):
		return "configuration"
	case errors.Is(err, ErrRegistry):
		return "registry"
	case errors.Is(err, ErrRemediation):
		return "remediation"
	case errors.Is(err, ErrPersistence):
		return "persistence"
	case errors.Is(err, ErrScheduling):
		return "scheduling"
	}
	return "unknown"
}
