package handler

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/autobiz/abp/backend/internal/executor"
	"github.com/autobiz/abp/backend/internal/handler/brand"
	"github.com/autobiz/abp/backend/internal/handler/campaign"
	"github.com/autobiz/abp/backend/internal/handler/files"
	"github.com/autobiz/abp/backend/internal/handler/jobs"
	"github.com/autobiz/abp/backend/internal/handler/media"
	"github.com/autobiz/abp/backend/internal/handler/stream"
	"github.com/autobiz/abp/backend/internal/handler/usage"
	middlewarePkg "github.com/autobiz/abp/backend/internal/middleware"
	brandService "github.com/autobiz/abp/backend/internal/service/brand"
	campaignService "github.com/autobiz/abp/backend/internal/service/campaign"
	jobService "github.com/autobiz/abp/backend/internal/service/jobs"
	"github.com/autobiz/abp/backend/internal/service/library"
	usageService "github.com/autobiz/abp/backend/internal/service/usage"
	"github.com/autobiz/abp/backend/pkg/utils"
)

// Deps are the services exposed over HTTP. Optional services may be nil; their
// routes are then left out.
type Deps struct {
	Logger    *zap.Logger
	Jobs      *jobService.Service
	Executor  executor.BatchExecutor
	Registry  *executor.Registry
	Library   *library.Service
	Brands    *brandService.Service
	Campaigns *campaignService.Service
	Usage     *usageService.Tracker
	// Integrations reports which external providers are configured.
	Integrations map[string]bool
	// Ping checks the backing database.
	Ping func(ctx context.Context) error
}

// NewRouter wires HTTP routes to core services.
func NewRouter(d Deps) http.Handler {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	r.Route("/api", func(api chi.Router) {
		api.Get("/health", health(d))
		api.Get("/integrations", func(w http.ResponseWriter, _ *http.Request) {
			utils.RespondJSON(w, http.StatusOK, d.Integrations)
		})

		jobs.New(d.Jobs, d.Executor, d.Registry).RegisterRoutes(api)
		stream.New(d.Jobs).RegisterRoutes(api)
		media.New(d.Jobs).RegisterRoutes(api)
		campaign.New(d.Jobs, d.Campaigns).RegisterRoutes(api)

		if d.Library != nil {
			files.New(d.Library).RegisterRoutes(api)
		}
		if d.Brands != nil {
			brand.New(d.Brands).RegisterRoutes(api)
		}
		if d.Usage != nil {
			usage.New(d.Usage).RegisterRoutes(api)
		}
	})

	r.Get("/docs", routeIndex(r))
	return r
}

type healthStatus struct {
	Status   string    `json:"status"`
	Database string    `json:"database,omitempty"`
	Executor string    `json:"executor"`
	Queue    any       `json:"queue"`
	Time     time.Time `json:"time"`
}

// health 返回服务状态；数据库不可用时返回 503
func health(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := healthStatus{Status: "ok", Executor: d.Executor.Name(), Queue: d.Jobs.Stats(), Time: time.Now().UTC()}
		code := http.StatusOK
		if d.Ping != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := d.Ping(ctx); err != nil {
				status.Status = "degraded"
				status.Database = err.Error()
				code = http.StatusServiceUnavailable
			} else {
				status.Database = "ok"
			}
		}
		utils.RespondJSON(w, code, status)
	}
}

type routeInfo struct {
	Method string `json:"method"`
	Path   string `json:"path"`
}

// routeIndex 列出所有已注册的路由
func routeIndex(routes chi.Routes) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		var out []routeInfo
		_ = chi.Walk(routes, func(method, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
			route = strings.ReplaceAll(route, "/*/", "/")
			if len(route) > 1 {
				route = strings.TrimSuffix(route, "/")
			}
			out = append(out, routeInfo{Method: method, Path: route})
			return nil
		})
		sort.Slice(out, func(i, j int) bool {
			if out[i].Path != out[j].Path {
				return out[i].Path < out[j].Path
			}
			return out[i].Method < out[j].Method
		})
		utils.RespondJSON(w, http.StatusOK, out)
	}
}
