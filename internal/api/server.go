package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/tagwatch/tagwatch/internal/config"
	"github.com/tagwatch/tagwatch/internal/gitops"
	"github.com/tagwatch/tagwatch/internal/logging"
	"github.com/tagwatch/tagwatch/internal/model"
	"github.com/tagwatch/tagwatch/internal/services"
)

type SnapshotReader interface {
	LatestSnapshot(name, namespace string) (model.Workload, error)
	LatestSnapshotsAll() ([]model.Workload, error)
}

type WorkloadScanner interface {
	RunScan(ctx context.Context) (services.ScanSummary, error)
	RefreshWorkload(ctx context.Context, w model.Workload) (model.Workload, error)
	Remediate(ctx context.Context, w model.Workload) (gitops.Result, error)
}

// WorkloadFinder reads a workload's current state from the cluster.
type WorkloadFinder interface {
	FindWorkload(ctx context.Context, name, namespace string) (model.Workload, error)
}

type ScheduleReader interface {
	NextScanTime() string
}

type requestValidator struct {
	validate *validator.Validate
}

func (v *requestValidator) Validate(i interface{}) error {
	return v.validate.Struct(i)
}

type Server struct {
	cfg      *config.Config
	store    SnapshotReader
	scanner  WorkloadScanner
	schedule ScheduleReader
	finder   WorkloadFinder

	// Background scans started over HTTP outlive the request.
	baseCtx context.Context
}

// NewServer builds the API server. finder may be nil, in which case refresh
// requests must carry the full workload.
func NewServer(cfg *config.Config, store SnapshotReader, scanner WorkloadScanner, schedule ScheduleReader, finder WorkloadFinder) *Server {
	return &Server{
		cfg:      cfg,
		store:    store,
		scanner:  scanner,
		schedule: schedule,
		finder:   finder,
		baseCtx:  context.Background(),
	}
}

// Router builds the echo instance serving the workload API.
func (s *Server) Router() *echo.Echo {
	app := echo.New()
	app.HideBanner = true
	app.Validator = &requestValidator{validate: validator.New()}

	app.Use(echoprometheus.NewMiddlewareWithConfig(echoprometheus.MiddlewareConfig{
		Subsystem: "tagwatch",
		LabelFuncs: map[string]echoprometheus.LabelValueFunc{
			"url": func(c echo.Context, err error) string {
				return c.Path()
			},
		},
	}))
	app.Use(middleware.Logger())
	app.Use(middleware.Recover())
	app.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowMethods: []string{http.MethodGet, http.MethodPost},
	}))

	app.GET("/status", GetAppStatus)

	v1 := app.Group("/api")
	v1.GET("/workloads", s.ListWorkloads)
	v1.GET("/workloads/:namespace/:name", s.GetWorkload)
	v1.POST("/workloads/update", s.UpdateWorkload)
	v1.POST("/workloads/upgrade", s.UpgradeWorkload)
	v1.POST("/workloads/refresh-all", s.RefreshAll)
	v1.GET("/settings", s.GetSettings)
	v1.GET("/settings/next-schedule-time", s.GetNextScheduleTime)
	return app
}

// Start serves the API, and the metrics endpoint when enabled, until ctx is
// cancelled.
func (s *Server) Start(ctx context.Context) error {
	log := logging.GetLogger()
	s.baseCtx = ctx

	servers := []*http.Server{{
		Addr:              ":" + s.cfg.APIPort,
		Handler:           s.Router(),
		ReadHeaderTimeout: time.Duration(s.cfg.ReadHeaderTimeout) * time.Second,
	}}
	if s.cfg.MetricsEnabled {
		metrics := echo.New()
		metrics.HideBanner = true
		metrics.GET("/metrics", echoprometheus.NewHandler())
		servers = append(servers, &http.Server{
			Addr:              ":" + s.cfg.PrometheusPort,
			Handler:           metrics,
			ReadHeaderTimeout: time.Duration(s.cfg.ReadHeaderTimeout) * time.Second,
		})
		log.Infof("Starting metrics endpoint on port %s", s.cfg.PrometheusPort)
	} else {
		log.Info("Metrics endpoint disabled (METRICS_ENABLED=false)")
	}

	errc := make(chan error, len(servers))
	for _, srv := range servers {
		go func(srv *http.Server) {
			log.Infof("listening on %s", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errc <- fmt.Errorf("server on %s: %w", srv.Addr, err)
			}
		}(srv)
	}

	var err error
	select {
	case <-ctx.Done():
	case err = <-errc:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, srv := range servers {
		if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Errorf("unable to shut down %s: %v", srv.Addr, shutdownErr)
		}
	}
	return err
}
