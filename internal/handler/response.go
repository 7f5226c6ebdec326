// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"errors"
	"net/http"

	"baguette-chat-go/internal/service"
	"baguette-chat-go/pkg/log"

	"github.com/gin-gonic/gin"
)

func success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "success",
		"data":    data,
	})
}

func fail(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{
		"code":    status,
		"message": message,
		"data":    nil,
	})
}

// statusOf 把服务层错误映射为 HTTP 状态码。
func statusOf(err error) int {
	switch {
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, service.ErrKeywordSearchDisabled):
		return http.StatusServiceUnavailable
	case service.IsValidation(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// failWith 按错误类型返回响应。fallback 用于未分类的错误。
func failWith(c *gin.Context, err error, fallback int, component string) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		log.Errorf("[%s] 请求处理失败: path=%s, err=%v", component, c.Request.URL.Path, err)
		status = fallback
	}
	fail(c, status, err.Error())
}

// requireClientID 读取 client_id 查询参数，缺失时返回 400。
func requireClientID(c *gin.Context) (string, bool) {
	clientID := c.Query("client_id")
	if clientID == "" {
		fail(c, http.StatusBadRequest, "client_id is required")
		return "", false
	}
	return clientID, true
}
