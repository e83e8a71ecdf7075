package api_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/labstack/echo/v4"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/tagwatch/tagwatch/internal/api"
	"github.com/tagwatch/tagwatch/internal/config"
	"github.com/tagwatch/tagwatch/internal/gitops"
	"github.com/tagwatch/tagwatch/internal/model"
	"github.com/tagwatch/tagwatch/internal/services"
)

/*
===============================================================================
WORKLOAD API BDD TEST SUITE
===============================================================================

Behaviors covered:

1. Reading scan history
   - Latest snapshot per workload, single workload lookup, 404 on misses

2. Acting on workloads
   - Single workload refresh with request validation, completed from
     the cluster when only name and namespace are given
   - Remediation with error propagation as 500
   - On-demand full scans

3. Settings
   - Credentials never leave the process
   - Next scheduled scan time or the no-schedule sentinel
===============================================================================
*/

type fakeStore struct {
	workloads []model.Workload
	err       error
}

func (f *fakeStore) LatestSnapshot(name, namespace string) (model.Workload, error) {
	for _, w := range f.workloads {
		if w.Name == name && w.Namespace == namespace {
			return w, nil
		}
	}
	return model.Workload{}, fmt.Errorf("%w: workload %s/%s", model.ErrNotFound, namespace, name)
}

func (f *fakeStore) LatestSnapshotsAll() ([]model.Workload, error) {
	return f.workloads, f.err
}

type fakeScanner struct {
	mu           sync.Mutex
	scans        int
	scanned      chan struct{}
	refreshed    []model.Workload
	remediateErr error
}

func (f *fakeScanner) RunScan(context.Context) (services.ScanSummary, error) {
	f.mu.Lock()
	f.scans++
	f.mu.Unlock()
	f.scanned <- struct{}{}
	return services.ScanSummary{ScanID: 1}, nil
}

func (f *fakeScanner) RefreshWorkload(_ context.Context, w model.Workload) (model.Workload, error) {
	f.refreshed = append(f.refreshed, w)
	w.UpdateAvailable = model.Available
	w.LatestVersion = "1.1.0"
	return w, nil
}

func (f *fakeScanner) Remediate(_ context.Context, w model.Workload) (gitops.Result, error) {
	if f.remediateErr != nil {
		return gitops.Result{State: gitops.RepositoryReady}, f.remediateErr
	}
	return gitops.Result{State: gitops.Done, Repository: w.RepoName(), Commit: "abc123"}, nil
}

type fakeFinder map[string]model.Workload

func (f fakeFinder) FindWorkload(_ context.Context, name, namespace string) (model.Workload, error) {
	w, ok := f[namespace+"/"+name]
	if !ok {
		return model.Workload{}, fmt.Errorf("%w: workload %s/%s", model.ErrNotFound, namespace, name)
	}
	return w, nil
}

type fixedSchedule string

func (f fixedSchedule) NextScanTime() string { return string(f) }

var _ = Describe("Workload API", func() {
	var (
		router  *echo.Echo
		store   *fakeStore
		scanner *fakeScanner
		cfg     *config.Config
	)

	web := model.Workload{
		Name:            "web",
		Namespace:       "prod",
		Image:           "nginx:1.0.0",
		CurrentVersion:  "1.0.0",
		LatestVersion:   "1.1.0",
		UpdateAvailable: model.Available,
		GitOpsRepo:      model.StringPtr("infra"),
	}

	do := func(method, path, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		if body != "" {
			req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		}
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	BeforeEach(func() {
		store = &fakeStore{workloads: []model.Workload{web}}
		scanner = &fakeScanner{scanned: make(chan struct{}, 1)}
		cfg = &config.Config{
			APIPort: "8080",
			System:  config.System{Schedule: "0 0 */2 * * *"},
		}
		cfg.Notifications.Ntfy.Token = "tk_secret"
		finder := fakeFinder{"prod/api": {
			Name:           "api",
			Namespace:      "prod",
			Image:          "ghcr.io/org/api:2.0.0",
			CurrentVersion: "2.0.0",
		}}
		router = api.NewServer(cfg, store, scanner, fixedSchedule("2024-03-01T10:00:00Z"), finder).Router()
	})

	Describe("When checking liveness", func() {
		It("should report the api server as working", func() {
			rec := do(http.MethodGet, "/status", "")

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Body.String()).To(ContainSubstring(`"api-server":"working"`))
		})
	})

	Describe("When listing workloads", func() {
		Context("Given a populated history", func() {
			It("should return the latest snapshots", func() {
				// When: the list endpoint is called
				rec := do(http.MethodGet, "/api/workloads", "")

				// Then: each workload is serialized with snake_case fields
				Expect(rec.Code).To(Equal(http.StatusOK))
				var got []map[string]interface{}
				Expect(json.Unmarshal(rec.Body.Bytes(), &got)).To(Succeed())
				Expect(got).To(HaveLen(1))
				Expect(got[0]).To(HaveKeyWithValue("name", "web"))
				Expect(got[0]).To(HaveKeyWithValue("update_available", "Available"))
				Expect(got[0]).To(HaveKeyWithValue("git_ops_repo", "infra"))
			})
		})

		Context("Given an empty history", func() {
			It("should return an empty array", func() {
				store.workloads = nil

				rec := do(http.MethodGet, "/api/workloads", "")

				Expect(rec.Code).To(Equal(http.StatusOK))
				Expect(strings.TrimSpace(rec.Body.String())).To(Equal("[]"))
			})
		})

		Context("Given a failing store", func() {
			It("should return an error response", func() {
				store.err = fmt.Errorf("%w: database is locked", model.ErrPersistence)

				rec := do(http.MethodGet, "/api/workloads", "")

				Expect(rec.Code).To(Equal(http.StatusInternalServerError))
				Expect(rec.Body.String()).To(ContainSubstring(`"status":"error"`))
			})
		})
	})

	Describe("When fetching one workload", func() {
		It("should return the snapshot when it exists", func() {
			rec := do(http.MethodGet, "/api/workloads/prod/web", "")

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Body.String()).To(ContainSubstring(`"latest_version":"1.1.0"`))
		})

		It("should return 404 for an unknown workload", func() {
			rec := do(http.MethodGet, "/api/workloads/staging/web", "")

			Expect(rec.Code).To(Equal(http.StatusNotFound))
		})
	})

	Describe("When refreshing a single workload", func() {
		Context("Given a valid workload", func() {
			It("should re-evaluate and return it", func() {
				body := `{"name":"web","namespace":"prod","image":"nginx:1.0.0","current_version":"1.0.0"}`

				rec := do(http.MethodPost, "/api/workloads/update", body)

				Expect(rec.Code).To(Equal(http.StatusOK))
				Expect(scanner.refreshed).To(HaveLen(1))
				Expect(scanner.refreshed[0].Image).To(Equal("nginx:1.0.0"))
				Expect(rec.Body.String()).To(ContainSubstring(`"status":"success"`))
			})
		})

		Context("Given only the name and namespace of a running workload", func() {
			It("should refresh the workload as found in the cluster", func() {
				rec := do(http.MethodPost, "/api/workloads/update", `{"name":"api","namespace":"prod"}`)

				Expect(rec.Code).To(Equal(http.StatusOK))
				Expect(scanner.refreshed).To(HaveLen(1))
				Expect(scanner.refreshed[0].Image).To(Equal("ghcr.io/org/api:2.0.0"))
				Expect(scanner.refreshed[0].CurrentVersion).To(Equal("2.0.0"))
			})
		})

		Context("Given a workload missing from the cluster", func() {
			It("should return 404", func() {
				rec := do(http.MethodPost, "/api/workloads/update", `{"name":"web","namespace":"staging"}`)

				Expect(rec.Code).To(Equal(http.StatusNotFound))
				Expect(scanner.refreshed).To(BeEmpty())
			})
		})

		Context("Given a workload without a name", func() {
			It("should reject the request", func() {
				rec := do(http.MethodPost, "/api/workloads/update", `{"namespace":"prod"}`)

				Expect(rec.Code).To(Equal(http.StatusBadRequest))
				Expect(scanner.refreshed).To(BeEmpty())
			})
		})

		Context("Given an unknown update status", func() {
			It("should reject the request", func() {
				body := `{"name":"web","namespace":"prod","image":"nginx:1.0.0","update_available":"Maybe"}`

				rec := do(http.MethodPost, "/api/workloads/update", body)

				Expect(rec.Code).To(Equal(http.StatusBadRequest))
			})
		})
	})

	Describe("When upgrading a workload", func() {
		body := `{"name":"web","namespace":"prod","image":"nginx:1.0.0","current_version":"1.0.0","latest_version":"1.1.0","git_ops_repo":"infra"}`

		It("should return the remediation result", func() {
			rec := do(http.MethodPost, "/api/workloads/upgrade", body)

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Body.String()).To(ContainSubstring(`"state":"Done"`))
			Expect(rec.Body.String()).To(ContainSubstring(`"commit":"abc123"`))
		})

		It("should surface remediation failures as 500", func() {
			scanner.remediateErr = fmt.Errorf("%w: push rejected", model.ErrRemediation)

			rec := do(http.MethodPost, "/api/workloads/upgrade", body)

			Expect(rec.Code).To(Equal(http.StatusInternalServerError))
			Expect(rec.Body.String()).To(ContainSubstring("push rejected"))
		})
	})

	Describe("When triggering a full refresh", func() {
		It("should accept the request and run a scan", func() {
			rec := do(http.MethodPost, "/api/workloads/refresh-all", "")

			Expect(rec.Code).To(Equal(http.StatusAccepted))
			Eventually(scanner.scanned).Should(Receive())
		})
	})

	Describe("When reading settings", func() {
		It("should not expose credentials", func() {
			rec := do(http.MethodGet, "/api/settings", "")

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Body.String()).To(ContainSubstring(`"schedule":"0 0 */2 * * *"`))
			Expect(rec.Body.String()).NotTo(ContainSubstring("tk_secret"))
		})

		It("should return the next scheduled scan as a JSON string", func() {
			rec := do(http.MethodGet, "/api/settings/next-schedule-time", "")

			Expect(rec.Code).To(Equal(http.StatusOK))
			var next string
			Expect(json.Unmarshal(rec.Body.Bytes(), &next)).To(Succeed())
			Expect(next).To(Equal("2024-03-01T10:00:00Z"))
		})
	})
})
