package usage

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/autobiz/abp/backend/internal/logging"
	usageService "github.com/autobiz/abp/backend/internal/service/usage"
	"github.com/autobiz/abp/backend/pkg/utils"
)

const (
	defaultRecent = 20
	maxRecent     = 500
	defaultHours  = 24
	maxHours      = 24 * 7
)

// Handler API用量与预算的HTTP处理器
type Handler struct {
	tracker *usageService.Tracker
}

// New 创建用量处理器
func New(tracker *usageService.Tracker) *Handler {
	return &Handler{tracker: tracker}
}

// RegisterRoutes 注册用量路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/usage", func(r chi.Router) {
		r.Get("/", h.handleSummary)
		r.Get("/budget", h.handleBudget)
		r.Get("/recent", h.handleRecent)
		r.Get("/leaderboard", h.handleLeaderboard)
		r.Get("/hourly", h.handleHourly)
		r.Get("/suggestions", h.handleSuggestions)
		r.Get("/export.csv", h.handleExport)
	})
}

// handleSummary 汇总某个时间段的调用，period 默认 day
func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.tracker.Summary(r.Context(), r.URL.Query().Get("period"))
	if err != nil {
		respondError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, summary)
}

func (h *Handler) handleBudget(w http.ResponseWriter, r *http.Request) {
	status, err := h.tracker.Budget(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, status)
}

func (h *Handler) handleRecent(w http.ResponseWriter, r *http.Request) {
	calls, err := h.tracker.Recent(r.Context(), intParam(r, "limit", defaultRecent, maxRecent))
	if err != nil {
		respondError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, calls)
}

func (h *Handler) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	board, err := h.tracker.Leaderboard(r.Context(), intParam(r, "limit", 10, 100))
	if err != nil {
		respondError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, board)
}

func (h *Handler) handleHourly(w http.ResponseWriter, r *http.Request) {
	buckets, err := h.tracker.Hourly(r.Context(), intParam(r, "hours", defaultHours, maxHours))
	if err != nil {
		respondError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, buckets)
}

func (h *Handler) handleSuggestions(w http.ResponseWriter, r *http.Request) {
	tips, err := h.tracker.Suggestions(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	if tips == nil {
		tips = []string{}
	}
	utils.RespondJSON(w, http.StatusOK, tips)
}

// handleExport 以CSV下载全部调用记录
func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="api_usage.csv"`)
	if err := h.tracker.ExportCSV(r.Context(), w); err != nil {
		// headers are already out
		logging.FromContext(r.Context()).Warn("usage export failed", zap.Error(err))
	}
}

func intParam(r *http.Request, name string, def, max int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil || v <= 0 {
		return def
	}
	return min(v, max)
}

func respondError(w http.ResponseWriter, err error) {
	if errors.Is(err, usageService.ErrUnknownPeriod) {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	utils.RespondError(w, http.StatusInternalServerError, err.Error())
}
