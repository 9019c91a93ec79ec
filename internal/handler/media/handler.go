package media

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/autobiz/abp/backend/internal/handler/jobs"
	"github.com/autobiz/abp/backend/internal/model/job"
	"github.com/autobiz/abp/backend/internal/model/media"
	jobService "github.com/autobiz/abp/backend/internal/service/jobs"
	"github.com/autobiz/abp/backend/internal/service/tasks"
	"github.com/autobiz/abp/backend/pkg/utils"
)

// Submitter queues jobs.
type Submitter interface {
	Submit(ctx context.Context, req jobService.SubmitRequest) (job.Job, error)
}

// Handler 媒体生成与商品发布的HTTP处理器，所有请求都作为任务排队执行
type Handler struct {
	jobs Submitter
}

// New 创建媒体处理器
func New(jobs Submitter) *Handler {
	return &Handler{jobs: jobs}
}

// RegisterRoutes 注册媒体、商品与博客路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/media/{kind}", h.handleMedia)
	r.Post("/products", h.handleProduct)
	r.Post("/blog-posts", h.handleBlogPost)
}

// handleMedia 校验请求后提交 media.{kind} 任务
func (h *Handler) handleMedia(w http.ResponseWriter, r *http.Request) {
	var (
		payload     any
		description string
		errMsg      string
	)
	kind := chi.URLParam(r, "kind")
	switch kind {
	case "image":
		var req media.ImageRequest
		if !decode(w, r, &req) {
			return
		}
		payload, description = req, req.Prompt
		if strings.TrimSpace(req.Prompt) == "" {
			errMsg = "prompt is required"
		}
	case "video":
		var req media.VideoRequest
		if !decode(w, r, &req) {
			return
		}
		payload, description = req, req.Prompt
		if strings.TrimSpace(req.Prompt) == "" && strings.TrimSpace(req.ImageURL) == "" {
			errMsg = "prompt or imageUrl is required"
		}
	case "text":
		var req media.TextRequest
		if !decode(w, r, &req) {
			return
		}
		payload, description = req, req.Prompt
		if strings.TrimSpace(req.Prompt) == "" {
			errMsg = "prompt is required"
		}
	case "speech":
		var req media.SpeechRequest
		if !decode(w, r, &req) {
			return
		}
		payload, description = req, req.Text
		if strings.TrimSpace(req.Text) == "" {
			errMsg = "text is required"
		}
	default:
		utils.RespondError(w, http.StatusNotFound, "unknown media kind: "+kind)
		return
	}
	if errMsg != "" {
		utils.RespondError(w, http.StatusBadRequest, errMsg)
		return
	}
	h.submit(w, r, "media."+kind, "media", description, payload)
}

// handleProduct 提交 product.create 任务
func (h *Handler) handleProduct(w http.ResponseWriter, r *http.Request) {
	var req tasks.ProductRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		utils.RespondError(w, http.StatusBadRequest, "title is required")
		return
	}
	if req.ImageURL == "" && strings.TrimSpace(req.Prompt) == "" {
		utils.RespondError(w, http.StatusBadRequest, "imageUrl or prompt is required")
		return
	}
	h.submit(w, r, tasks.KindProduct, "products", req.Title, req)
}

// handleBlogPost 提交 blog.publish 任务
func (h *Handler) handleBlogPost(w http.ResponseWriter, r *http.Request) {
	var req tasks.BlogRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		utils.RespondError(w, http.StatusBadRequest, "title is required")
		return
	}
	h.submit(w, r, tasks.KindBlog, "blog", req.Title, req)
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request, kind, source, description string, payload any) {
	priority := 0
	if raw := r.URL.Query().Get("priority"); raw != "" {
		p, err := strconv.Atoi(raw)
		if err != nil {
			utils.RespondError(w, http.StatusBadRequest, "priority must be an integer")
			return
		}
		priority = p
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	j, err := h.jobs.Submit(r.Context(), jobService.SubmitRequest{
		Kind:        kind,
		Source:      source,
		Description: clip(description, 120),
		Priority:    priority,
		Payload:     raw,
	})
	if err != nil {
		jobs.RespondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusAccepted, j)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := utils.DecodeJSON(w, r, v); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func clip(s string, n int) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n]) + "..."
}
