package campaign

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/autobiz/abp/backend/internal/handler/jobs"
	"github.com/autobiz/abp/backend/internal/handler/media"
	campaignService "github.com/autobiz/abp/backend/internal/service/campaign"
	jobService "github.com/autobiz/abp/backend/internal/service/jobs"
	"github.com/autobiz/abp/backend/internal/service/tasks"
	"github.com/autobiz/abp/backend/pkg/utils"
)

// Handler 营销活动的HTTP处理器。生成请求以任务方式排队，产物从磁盘读取
type Handler struct {
	jobs      media.Submitter
	campaigns *campaignService.Service
}

// New 创建营销活动处理器，campaigns 为 nil 时只提供提交接口
func New(jobs media.Submitter, campaigns *campaignService.Service) *Handler {
	return &Handler{jobs: jobs, campaigns: campaigns}
}

// RegisterRoutes 注册营销活动路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/campaigns", h.handleCreate)
	r.Get("/campaigns", h.handleList)
	r.Get("/campaigns/{name}/archive", h.handleFile)
	r.Get("/campaigns/{name}/files/{file}", h.handleFile)
}

// handleCreate 校验并补全请求后提交 campaign.generate 任务
func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req campaignService.Request
	if err := utils.DecodeJSON(w, r, &req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := req.Normalize(); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	raw, err := json.Marshal(req)
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	j, err := h.jobs.Submit(r.Context(), jobService.SubmitRequest{
		Kind:        tasks.KindCampaign,
		Source:      "campaigns",
		Description: req.Name,
		Payload:     raw,
	})
	if err != nil {
		jobs.RespondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusAccepted, j)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	if h.campaigns == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "campaign generation is not configured")
		return
	}
	list, err := h.campaigns.List()
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusOK, list)
}

// handleFile 下载活动中的单个文件，/archive 对应完整 zip
func (h *Handler) handleFile(w http.ResponseWriter, r *http.Request) {
	if h.campaigns == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "campaign generation is not configured")
		return
	}
	f, info, err := h.campaigns.Open(chi.URLParam(r, "name"), chi.URLParam(r, "file"))
	if err != nil {
		if errors.Is(err, campaignService.ErrNotFound) {
			utils.RespondError(w, http.StatusNotFound, err.Error())
			return
		}
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer f.Close()

	w.Header().Set("Content-Disposition", `attachment; filename="`+info.Name()+`"`)
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}
