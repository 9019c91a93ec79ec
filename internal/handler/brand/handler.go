package brand

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	model "github.com/autobiz/abp/backend/internal/model/brand"
	brandService "github.com/autobiz/abp/backend/internal/service/brand"
	"github.com/autobiz/abp/backend/pkg/utils"
)

// Handler 品牌模板的HTTP处理器
type Handler struct {
	brands *brandService.Service
}

// New 创建品牌模板处理器
func New(brands *brandService.Service) *Handler {
	return &Handler{brands: brands}
}

// RegisterRoutes 注册品牌模板相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/brand-templates", func(r chi.Router) {
		r.Get("/", h.handleList)
		r.Post("/", h.handleCreate)
		r.Get("/categories", h.handleCategories)
		r.Get("/{id}", h.handleGet)
		r.Put("/{id}", h.handleSave)
		r.Delete("/{id}", h.handleDelete)
		r.Post("/{id}/enhance", h.handleEnhance)
	})
}

// handleList 列出模板，可按 category 过滤
func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.brands.List(r.URL.Query().Get("category")))
}

func (h *Handler) handleCategories(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.brands.Categories())
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	t, err := h.brands.Get(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, t)
}

// handleCreate 创建自定义模板，ID 由服务端生成
func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var t model.Template
	if err := utils.DecodeJSON(w, r, &t); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	created, err := h.brands.Create(r.Context(), t)
	if err != nil {
		respondError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusCreated, created)
}

// handleSave 按路径中的 ID 新建或覆盖自定义模板
func (h *Handler) handleSave(w http.ResponseWriter, r *http.Request) {
	var t model.Template
	if err := utils.DecodeJSON(w, r, &t); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	t.ID = chi.URLParam(r, "id")
	saved, err := h.brands.Save(r.Context(), t)
	if err != nil {
		respondError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, saved)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.brands.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type enhanceRequest struct {
	Prompt string `json:"prompt"`
	Type   string `json:"type"`
}

// handleEnhance 用模板修饰提示词，type 默认为 product
func (h *Handler) handleEnhance(w http.ResponseWriter, r *http.Request) {
	var req enhanceRequest
	if err := utils.DecodeJSON(w, r, &req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Type) == "" {
		req.Type = "product"
	}
	enhanced, err := h.brands.EnhancePrompt(chi.URLParam(r, "id"), req.Prompt, req.Type)
	if err != nil {
		respondError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]string{"prompt": enhanced})
}

func respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, brandService.ErrNotFound):
		utils.RespondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, brandService.ErrReadOnly):
		utils.RespondError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, brandService.ErrNameRequired), errors.Is(err, model.ErrInvalidID):
		utils.RespondError(w, http.StatusBadRequest, err.Error())
	default:
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
	}
}
