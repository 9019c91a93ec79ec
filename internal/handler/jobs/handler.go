package jobs

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/autobiz/abp/backend/internal/executor"
	"github.com/autobiz/abp/backend/internal/logging"
	"github.com/autobiz/abp/backend/internal/model/job"
	jobService "github.com/autobiz/abp/backend/internal/service/jobs"
	"github.com/autobiz/abp/backend/pkg/utils"
)

// MaxBatchSize caps synchronous batches.
const MaxBatchSize = 100

// Handler 任务与批处理的HTTP处理器
type Handler struct {
	jobs     *jobService.Service
	exec     executor.BatchExecutor
	registry *executor.Registry
}

// New 创建任务处理器
func New(jobs *jobService.Service, exec executor.BatchExecutor, registry *executor.Registry) *Handler {
	return &Handler{jobs: jobs, exec: exec, registry: registry}
}

// RegisterRoutes 注册任务、批处理和执行器路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/jobs", h.handleSubmit)
	r.Get("/jobs", h.handleList)
	r.Get("/jobs/stats", h.handleStats)
	r.Get("/jobs/{id}", h.handleGet)
	r.Get("/jobs/{id}/result", h.handleResult)
	r.Delete("/jobs/{id}", h.handleCancel)
	r.Post("/batches", h.handleBatch)
	r.Get("/executor", h.handleExecutor)
}

// handleSubmit 提交任务
func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req jobService.SubmitRequest
	if err := utils.DecodeJSON(w, r, &req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Source == "" {
		req.Source = "api"
	}

	j, err := h.jobs.Submit(r.Context(), req)
	if err != nil {
		RespondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusAccepted, j)
}

// handleList 列出任务，支持 source/status/kind/limit 过滤
func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := job.Filter{
		Source: q.Get("source"),
		Status: job.Status(q.Get("status")),
		Kind:   q.Get("kind"),
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			utils.RespondError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		f.Limit = n
	}

	list, err := h.jobs.List(r.Context(), f)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if list == nil {
		list = []job.Job{}
	}
	utils.RespondJSON(w, http.StatusOK, list)
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.jobs.Stats())
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	j, err := h.jobs.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		RespondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, j)
}

// handleResult 返回已完成任务的输出
func (h *Handler) handleResult(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	out, err := h.jobs.Result(r.Context(), id)
	switch {
	case err == nil:
	case errors.Is(err, jobService.ErrNotFinished):
		utils.RespondError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, jobService.ErrJobNotFound):
		utils.RespondError(w, http.StatusNotFound, "job not found")
		return
	default:
		utils.RespondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if len(out) == 0 {
		out = []byte("null")
	}
	_, _ = w.Write(out)
}

// handleCancel 取消排队或运行中的任务
func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	j, err := h.jobs.Cancel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		RespondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, j)
}

type batchRequest struct {
	Calls          []executor.Call `json:"calls"`
	MaxConcurrent  int             `json:"maxConcurrent,omitempty"`
	TimeoutSeconds int             `json:"timeoutSeconds,omitempty"`
}

type batchResponse struct {
	Executor string             `json:"executor"`
	Outcomes []executor.Outcome `json:"outcomes"`
	Report   executor.Report    `json:"report"`
}

// handleBatch 同步执行一批调用，部分失败时仍返回 200 并附带成功率
func (h *Handler) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := utils.DecodeJSON(w, r, &req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Calls) > MaxBatchSize {
		utils.RespondError(w, http.StatusBadRequest, "too many calls in batch")
		return
	}
	for _, c := range req.Calls {
		if strings.TrimSpace(c.Kind) == "" {
			utils.RespondError(w, http.StatusBadRequest, "every call needs a kind")
			return
		}
		if _, ok := h.registry.Lookup(c.Kind); !ok {
			utils.RespondError(w, http.StatusBadRequest, "unknown kind: "+c.Kind)
			return
		}
	}

	opts := executor.Options{
		MaxConcurrent: req.MaxConcurrent,
		Timeout:       time.Duration(req.TimeoutSeconds) * time.Second,
	}
	outcomes, err := h.exec.Execute(r.Context(), req.Calls, opts)
	if err != nil {
		logging.FromContext(r.Context()).Error("batch failed", zap.Error(err))
		utils.RespondError(w, http.StatusBadGateway, err.Error())
		return
	}
	if outcomes == nil {
		outcomes = []executor.Outcome{}
	}
	utils.RespondJSON(w, http.StatusOK, batchResponse{
		Executor: h.exec.Name(),
		Outcomes: outcomes,
		Report:   executor.Summarize(outcomes),
	})
}

type kindInfo struct {
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Profile     executor.Profile `json:"profile"`
	LocalOnly   bool             `json:"localOnly,omitempty"`
}

// handleExecutor 返回当前执行器、资源配置与已注册的任务类型
func (h *Handler) handleExecutor(w http.ResponseWriter, r *http.Request) {
	kinds := h.registry.Kinds()
	infos := make([]kindInfo, len(kinds))
	for i, k := range kinds {
		infos[i] = kindInfo{Name: k.Name, Description: k.Description, Profile: k.Profile, LocalOnly: k.LocalOnly}
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"executor": h.exec.Name(),
		"queue":    h.jobs.Stats(),
		"profiles": executor.Profiles(),
		"kinds":    infos,
	})
}

// RespondServiceError maps job service errors to status codes.
func RespondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, jobService.ErrJobNotFound):
		utils.RespondError(w, http.StatusNotFound, "job not found")
	case errors.Is(err, jobService.ErrKindRequired),
		errors.Is(err, jobService.ErrUnknownKind),
		errors.Is(err, jobService.ErrInvalidPriority):
		utils.RespondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, jobService.ErrAlreadyFinished):
		utils.RespondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, jobService.ErrClosed):
		utils.RespondError(w, http.StatusServiceUnavailable, err.Error())
	default:
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
	}
}
