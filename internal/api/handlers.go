package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/tagwatch/tagwatch/internal/logging"
	"github.com/tagwatch/tagwatch/internal/model"
)

func errorResponse(c echo.Context, status int, err error) error {
	return c.JSON(status, echo.Map{"status": "error", "message": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrConfiguration):
		return http.StatusUnprocessableEntity
	case errors.Is(err, model.ErrRegistry):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func GetAppStatus(c echo.Context) error {
	status := map[string]string{
		"api-server": "working",
	}
	return c.JSON(http.StatusOK, status)
}

func (s *Server) ListWorkloads(c echo.Context) error {
	workloads, err := s.store.LatestSnapshotsAll()
	if err != nil {
		return errorResponse(c, statusFor(err), err)
	}
	if workloads == nil {
		workloads = []model.Workload{}
	}
	return c.JSON(http.StatusOK, workloads)
}

func (s *Server) GetWorkload(c echo.Context) error {
	w, err := s.store.LatestSnapshot(c.Param("name"), c.Param("namespace"))
	if err != nil {
		return errorResponse(c, statusFor(err), err)
	}
	return c.JSON(http.StatusOK, w)
}

func (s *Server) bindWorkload(c echo.Context) (model.Workload, error) {
	var w model.Workload
	if err := c.Bind(&w); err != nil {
		return w, err
	}
	if err := c.Validate(&w); err != nil {
		return w, err
	}
	return w, nil
}

// UpdateWorkload re-evaluates one workload and stores the new snapshot. A
// body carrying only name and namespace is completed from the cluster.
func (s *Server) UpdateWorkload(c echo.Context) error {
	var w model.Workload
	if err := c.Bind(&w); err != nil {
		return errorResponse(c, http.StatusBadRequest, err)
	}
	if w.Image == "" && w.Name != "" && w.Namespace != "" && s.finder != nil {
		live, err := s.finder.FindWorkload(c.Request().Context(), w.Name, w.Namespace)
		if err != nil {
			return errorResponse(c, statusFor(err), err)
		}
		w = live
	}
	if err := c.Validate(&w); err != nil {
		return errorResponse(c, http.StatusBadRequest, err)
	}
	refreshed, err := s.scanner.RefreshWorkload(c.Request().Context(), w)
	if err != nil {
		return errorResponse(c, statusFor(err), err)
	}
	return c.JSON(http.StatusOK, echo.Map{"status": "success", "workload": refreshed})
}

func (s *Server) UpgradeWorkload(c echo.Context) error {
	w, err := s.bindWorkload(c)
	if err != nil {
		return errorResponse(c, http.StatusBadRequest, err)
	}
	result, err := s.scanner.Remediate(c.Request().Context(), w)
	if err != nil {
		logging.ForWorkload(w.Name, w.Namespace).Errorf("upgrade failed in state %s: %v", result.State, err)
		return errorResponse(c, http.StatusInternalServerError, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"status": "success", "result": result})
}

// RefreshAll starts a full scan in the background. The scheduled timer is
// left untouched.
func (s *Server) RefreshAll(c echo.Context) error {
	ctx := s.baseCtx
	go func() {
		if _, err := s.scanner.RunScan(ctx); err != nil {
			logging.GetLogger().Errorf("on-demand scan failed: %v", err)
		}
	}()
	return c.JSON(http.StatusAccepted, echo.Map{"status": "success", "message": "scan started"})
}

func (s *Server) GetSettings(c echo.Context) error {
	return c.JSON(http.StatusOK, s.cfg.Redacted())
}

func (s *Server) GetNextScheduleTime(c echo.Context) error {
	return c.JSON(http.StatusOK, s.schedule.NextScanTime())
}
