package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	apperrors "github.com/wfunc/drawchain/internal/errors"
)

// ErrorResponse 错误响应
type ErrorResponse struct {
	Code    apperrors.ErrorCode `json:"code"`
	Message string              `json:"message"`
	Details string              `json:"details,omitempty"`
}

// respondError 按错误码映射 HTTP 状态
func respondError(c *gin.Context, err error) {
	resp := ErrorResponse{Code: apperrors.GetCode(err), Message: err.Error()}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		resp.Message = appErr.Message
		resp.Details = appErr.Details
	}
	c.AbortWithStatusJSON(apperrors.HTTPStatus(err), resp)
}

func badRequest(c *gin.Context, err error) {
	respondError(c, apperrors.Wrap(err, apperrors.ErrInvalidParam))
}

func notFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, ErrorResponse{
		Code:    apperrors.ErrNotFound,
		Message: "接口不存在",
	})
}
