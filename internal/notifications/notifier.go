package notifications

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/tagwatch/tagwatch/internal/logging"
	"github.com/tagwatch/tagwatch/internal/model"
)

type EventKind string

const (
	UpdateAvailable EventKind = "update_available"
	Committed       EventKind = "committed"
)

// Notifier delivers a workload event to one channel.
type Notifier interface {
	Notify(ctx context.Context, kind EventKind, w model.Workload) error
}

// Event is the payload published to the message brokers.
type Event struct {
	ID             string    `json:"id"`
	Kind           EventKind `json:"kind"`
	Timestamp      string    `json:"timestamp"`
	Name           string    `json:"name"`
	Namespace      string    `json:"namespace"`
	Image          string    `json:"image"`
	CurrentVersion string    `json:"current_version"`
	LatestVersion  string    `json:"latest_version"`
	GitOpsRepo     string    `json:"git_ops_repo,omitempty"`
}

func NewEvent(kind EventKind, w model.Workload) Event {
	return Event{
		ID:             uuid.New().String(),
		Kind:           kind,
		Timestamp:      time.Now().UTC().Format(time.RFC3339),
		Name:           w.Name,
		Namespace:      w.Namespace,
		Image:          w.Image,
		CurrentVersion: w.CurrentVersion,
		LatestVersion:  w.LatestVersion,
		GitOpsRepo:     w.RepoName(),
	}
}

// Dispatcher fans an event out to every configured notifier. Failures of
// one channel do not stop the others.
type Dispatcher struct {
	notifiers []Notifier
}

func NewDispatcher(notifiers ...Notifier) *Dispatcher {
	return &Dispatcher{notifiers: notifiers}
}

func (d *Dispatcher) Add(n Notifier) {
	d.notifiers = append(d.notifiers, n)
}

func (d *Dispatcher) Len() int {
	return len(d.notifiers)
}

func (d *Dispatcher) Notify(ctx context.Context, kind EventKind, w model.Workload) error {
	var errs []error
	for _, n := range d.notifiers {
		if err := n.Notify(ctx, kind, w); err != nil {
			notificationFailures.Inc()
			logging.ForWorkload(w.Name, w.Namespace).Errorf("notification %s failed: %v", kind, err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
