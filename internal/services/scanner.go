package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tagwatch/tagwatch/internal/gitops"
	"github.com/tagwatch/tagwatch/internal/logging"
	"github.com/tagwatch/tagwatch/internal/model"
	"github.com/tagwatch/tagwatch/internal/notifications"
	"github.com/tagwatch/tagwatch/internal/registry"
	"github.com/tagwatch/tagwatch/internal/version"
)

type WorkloadLister interface {
	DiscoverEnabledWorkloads(ctx context.Context) ([]model.Workload, error)
}

type HistoryStore interface {
	NextScanID() (int, error)
	Record(w model.Workload, scanID int) error
}

type Remediator interface {
	Remediate(ctx context.Context, w model.Workload) (gitops.Result, error)
}

type ScanSummary struct {
	ScanID       int `json:"scan_id"`
	Processed    int `json:"processed"`
	UpdatesFound int `json:"updates_found"`
	Failures     int `json:"failures"`
}

// Scanner runs the discover, resolve, evaluate, persist and notify cycle.
// Scans and single workload refreshes never interleave.
type Scanner struct {
	mu sync.Mutex

	discovery     WorkloadLister
	resolver      registry.TagResolver
	store         HistoryStore
	notifier      notifications.Notifier
	remediator    Remediator
	autoRemediate bool
	now           func() time.Time
}

type ScannerOption func(*Scanner)

// WithAutoRemediation remediates every workload with an available update
// and a configured repository during scans.
func WithAutoRemediation(enabled bool) ScannerOption {
	return func(s *Scanner) {
		s.autoRemediate = enabled
	}
}

func NewScanner(discovery WorkloadLister, resolver registry.TagResolver, store HistoryStore, notifier notifications.Notifier, remediator Remediator, opts ...ScannerOption) *Scanner {
	s := &Scanner{
		discovery:  discovery,
		resolver:   resolver,
		store:      store,
		notifier:   notifier,
		remediator: remediator,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RunScan evaluates every discovered workload under one scan id. Only
// discovery and scan id allocation failures abort the scan.
func (s *Scanner) RunScan(ctx context.Context) (ScanSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := logging.GetLogger()
	scansTotal.Inc()

	workloads, err := s.discovery.DiscoverEnabledWorkloads(ctx)
	if err != nil {
		return ScanSummary{}, fmt.Errorf("workload discovery failed: %w", err)
	}
	scanID, err := s.store.NextScanID()
	if err != nil {
		return ScanSummary{}, err
	}

	summary := ScanSummary{ScanID: scanID}
	log.Infof("scan %d started for %d workloads", scanID, len(workloads))
	for _, w := range workloads {
		if ctx.Err() != nil {
			log.Warnf("scan %d interrupted: %v", scanID, ctx.Err())
			return summary, ctx.Err()
		}
		evaluated, failed := s.processWorkload(ctx, w, scanID)
		summary.Processed++
		if failed {
			summary.Failures++
		}
		if evaluated.UpdateAvailable == model.Available {
			summary.UpdatesFound++
		}
	}
	log.Infof("scan %d finished: %d processed, %d updates, %d failures",
		scanID, summary.Processed, summary.UpdatesFound, summary.Failures)
	return summary, nil
}

func (s *Scanner) processWorkload(ctx context.Context, w model.Workload, scanID int) (model.Workload, bool) {
	log := logging.ForWorkload(w.Name, w.Namespace).WithField("scan_id", scanID)
	failed := false

	evaluated, err := s.evaluate(ctx, w)
	if err != nil {
		recordFailure(log, "evaluation", err)
		failed = true
		evaluated = w
		evaluated.LatestVersion = ""
		evaluated.UpdateAvailable = model.NotAvailable
	}
	evaluated.MarkScanned(s.now())

	if err := s.store.Record(evaluated, scanID); err != nil {
		recordFailure(log, "persistence", err)
		failed = true
	}

	if evaluated.UpdateAvailable != model.Available {
		return evaluated, failed
	}
	updatesAvailable.Inc()
	if s.notifier != nil {
		if err := s.notifier.Notify(ctx, notifications.UpdateAvailable, evaluated); err != nil {
			log.Errorf("unable to send update notification: %v", err)
		}
	}
	if s.autoRemediate && evaluated.GitOpsRepo != nil {
		if _, err := s.remediate(ctx, evaluated); err != nil {
			recordFailure(log, "remediation", err)
			failed = true
		}
	}
	return evaluated, failed
}

func (s *Scanner) evaluate(ctx context.Context, w model.Workload) (model.Workload, error) {
	tags, err := s.resolver.ResolveTags(ctx, w.Image)
	if err != nil {
		return w, err
	}
	return version.Evaluate(w, tags)
}

// RefreshWorkload re-evaluates one workload under a fresh scan id. Unlike a
// full scan, an evaluation failure is returned and nothing is persisted.
func (s *Scanner) RefreshWorkload(ctx context.Context, w model.Workload) (model.Workload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	evaluated, err := s.evaluate(ctx, w)
	if err != nil {
		return w, err
	}
	evaluated.MarkScanned(s.now())

	scanID, err := s.store.NextScanID()
	if err != nil {
		return evaluated, err
	}
	if err := s.store.Record(evaluated, scanID); err != nil {
		return evaluated, err
	}
	logging.ForWorkload(w.Name, w.Namespace).
		WithField("scan_id", scanID).
		Infof("refreshed workload, update %s", evaluated.UpdateAvailable)
	return evaluated, nil
}

// Remediate pushes the workload's latest version to its GitOps repository.
func (s *Scanner) Remediate(ctx context.Context, w model.Workload) (gitops.Result, error) {
	if s.remediator == nil {
		return gitops.Result{}, fmt.Errorf("%w: remediation is not configured", model.ErrConfiguration)
	}
	if w.LatestVersion == "" {
		return gitops.Result{}, fmt.Errorf("%w: workload %s/%s has no newer version", model.ErrRemediation, w.Namespace, w.Name)
	}
	return s.remediate(ctx, w)
}

func (s *Scanner) remediate(ctx context.Context, w model.Workload) (gitops.Result, error) {
	result, err := s.remediator.Remediate(ctx, w)
	switch {
	case err != nil:
		remediations.WithLabelValues("failed").Inc()
	case result.NoOp:
		remediations.WithLabelValues("skipped").Inc()
	default:
		remediations.WithLabelValues("pushed").Inc()
	}
	return result, err
}

func recordFailure(log *logrus.Entry, step string, err error) {
	kind := model.ErrorKind(err)
	workloadFailures.WithLabelValues(kind).Inc()
	log.WithField("kind", kind).Errorf("%s failed: %v", step, err)
}
