package middleware

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestLoggerKeepsBodyReadable(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestLogger())
	r.POST("/echo", func(c *gin.Context) {
		b, err := io.ReadAll(c.Request.Body)
		require.NoError(t, err)
		c.String(http.StatusOK, string(b))
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/echo", bytes.NewBufferString(`{"title":"x"}`)))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, `{"title":"x"}`, w.Body.String())
}

func TestStreamingDetection(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tests := []struct {
		name   string
		path   string
		header map[string]string
		want   bool
	}{
		{"plain json", "/api/conversations", map[string]string{"Content-Type": "application/json"}, false},
		{"multipart upload", "/api/conversations/c/documents", map[string]string{"Content-Type": "multipart/form-data; boundary=x"}, true},
		{"websocket", "/ws/chat", map[string]string{"Upgrade": "websocket"}, true},
		{"event stream", "/api/conversations/c/documents/d/events", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := gin.CreateTestContext(httptest.NewRecorder())
			c.Request = httptest.NewRequest(http.MethodGet, tt.path, nil)
			for k, v := range tt.header {
				c.Request.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, streaming(c))
		})
	}
}
