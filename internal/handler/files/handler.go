package files

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/autobiz/abp/backend/internal/service/library"
	"github.com/autobiz/abp/backend/pkg/utils"
)

// MaxUploadBytes bounds a single upload.
const MaxUploadBytes = 100 << 20

// Handler 文件库的HTTP处理器
type Handler struct {
	library *library.Service
}

// New 创建文件库处理器
func New(lib *library.Service) *Handler {
	return &Handler{library: lib}
}

// RegisterRoutes 注册文件库路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/files", h.handleList)
	r.Get("/files/categories", h.handleCategories)
	r.Post("/files/{category}", h.handleUpload)
	r.Get("/files/{category}/{name}", h.handleServe)
	r.Delete("/files/{category}/{name}", h.handleDelete)
}

// handleList 分页列出文件，最新的在前
func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	pageSize, _ := strconv.Atoi(q.Get("pageSize"))

	result, err := h.library.List(library.Category(q.Get("category")), page, pageSize)
	if err != nil {
		respondError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, result)
}

func (h *Handler) handleCategories(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, library.Categories())
}

// handleUpload 将请求体原样保存，文件名取自 ?name=
func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, MaxUploadBytes)
	defer body.Close()

	entry, err := h.library.Save(r.Context(), library.Category(chi.URLParam(r, "category")), r.URL.Query().Get("name"), body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			utils.RespondError(w, http.StatusRequestEntityTooLarge, "upload too large")
			return
		}
		respondError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusCreated, entry)
}

// handleServe 输出文件内容，支持 Range 与条件请求
func (h *Handler) handleServe(w http.ResponseWriter, r *http.Request) {
	f, entry, err := h.library.Open(library.Category(chi.URLParam(r, "category")), chi.URLParam(r, "name"))
	if err != nil {
		respondError(w, err)
		return
	}
	defer f.Close()

	if r.URL.Query().Get("download") == "1" {
		w.Header().Set("Content-Disposition", `attachment; filename="`+entry.Name+`"`)
	}
	http.ServeContent(w, r, entry.Name, entry.ModTime, f)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.library.Delete(library.Category(chi.URLParam(r, "category")), chi.URLParam(r, "name")); err != nil {
		respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, library.ErrNotFound):
		utils.RespondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, library.ErrUnknownCategory), errors.Is(err, library.ErrInvalidName):
		utils.RespondError(w, http.StatusBadRequest, err.Error())
	default:
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
	}
}
