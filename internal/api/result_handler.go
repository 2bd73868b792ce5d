package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	apperrors "github.com/wfunc/drawchain/internal/errors"
	"github.com/wfunc/drawchain/internal/repository"
	"github.com/wfunc/drawchain/internal/service"
)

// ResultListResponse 归档列表响应
type ResultListResponse struct {
	Items    []*service.ResultSummary `json:"items"`
	Page     int                      `json:"page"`
	PageSize int                      `json:"page_size"`
	Total    int64                    `json:"total"`
	Pages    int                      `json:"total_pages"`
}

// ResultHandler 对局归档接口
type ResultHandler struct {
	results service.ResultService
}

// NewResultHandler results 为 nil 时接口返回 503
func NewResultHandler(results service.ResultService) *ResultHandler {
	return &ResultHandler{results: results}
}

// ListResults 分页列出已归档对局
func (h *ResultHandler) ListResults(c *gin.Context) {
	if h.results == nil {
		respondError(c, apperrors.New(apperrors.ErrDatabaseConnect, "archive disabled"))
		return
	}

	page, err := queryInt(c, "page", 1)
	if err != nil {
		badRequest(c, err)
		return
	}
	pageSize, err := queryInt(c, "page_size", repository.DefaultPageSize)
	if err != nil {
		badRequest(c, err)
		return
	}

	items, p, err := h.results.ListResults(c.Request.Context(), page, pageSize)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ResultListResponse{
		Items:    items,
		Page:     p.Page,
		PageSize: p.PageSize,
		Total:    p.Total,
		Pages:    p.TotalPages(),
	})
}

// GetResult 读取单局归档
func (h *ResultHandler) GetResult(c *gin.Context) {
	if h.results == nil {
		respondError(c, apperrors.New(apperrors.ErrDatabaseConnect, "archive disabled"))
		return
	}

	detail, err := h.results.GetResult(c.Request.Context(), c.Param("room_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

func queryInt(c *gin.Context, key string, def int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}
