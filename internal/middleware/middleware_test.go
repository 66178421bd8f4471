package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/sisreg-api/internal/handler"
	apperrors "github.com/jwalitptl/sisreg-api/pkg/errors"
)

func newEngine(mw ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(mw...)
	return r
}

func serve(r *gin.Engine, req *http.Request) (*httptest.ResponseRecorder, handler.Response) {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var resp handler.Response
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	return w, resp
}

func TestErrorHandler(t *testing.T) {
	r := newEngine(RequestID(), ErrorHandler())
	r.GET("/missing", func(c *gin.Context) {
		handler.Error(c, apperrors.NotFound("referral", nil))
	})
	r.GET("/boom", func(c *gin.Context) {
		handler.Error(c, errors.New("db exploded: password=hunter2"))
	})

	w, resp := serve(r, httptest.NewRequest(http.MethodGet, "/missing", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", resp.Code)
	assert.Equal(t, "referral not found", resp.Message)
	assert.Equal(t, w.Header().Get(HeaderXRequestID), resp.RequestID)

	w, resp = serve(r, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "internal server error", resp.Message)
	assert.NotContains(t, w.Body.String(), "hunter2")
}

func TestRequestIDKeepsValidHeader(t *testing.T) {
	r := newEngine(RequestID())
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	const rid = "3f1c8a52-7d5b-4b8e-9f51-0c2d7e6a9b10"
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderXRequestID, rid)
	w, _ := serve(r, req)
	assert.Equal(t, rid, w.Header().Get(HeaderXRequestID))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderXRequestID, "not a uuid\r\n")
	w, _ = serve(r, req)
	assert.NotEqual(t, "not a uuid\r\n", w.Header().Get(HeaderXRequestID))
	assert.NotEmpty(t, w.Header().Get(HeaderXRequestID))
}

func TestRecovery(t *testing.T) {
	r := newEngine(RequestID(), Recovery())
	r.GET("/panic", func(c *gin.Context) { panic("boom") })

	w, resp := serve(r, httptest.NewRequest(http.MethodGet, "/panic", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "error", resp.Status)
	assert.NotEmpty(t, resp.RequestID)
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{Rate: 1, Burst: 2})
	r := newEngine(rl.RateLimit())
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		w, _ := serve(r, req)
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	// Another client has its own bucket.
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.2:1234"
	w, _ := serve(r, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSizeLimit(t *testing.T) {
	r := newEngine(SizeLimit(SizeLimitConfig{MaxBodySize: 16, MaxHeaderSize: 1 << 10}))
	r.POST("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	w, _ := serve(r, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"a":1}`)))
	assert.Equal(t, http.StatusOK, w.Code)

	w, resp := serve(r, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(strings.Repeat("x", 64))))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Equal(t, "too_large", resp.Code)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Padding", strings.Repeat("y", 2<<10))
	w, _ = serve(r, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestRegisterValidators(t *testing.T) {
	require.NoError(t, RegisterValidators())

	type body struct {
		Name string `json:"name" binding:"required,kebab"`
		Date string `json:"date" binding:"omitempty,isodate"`
	}
	r := newEngine(ErrorHandler())
	r.POST("/", func(c *gin.Context) {
		var b body
		if !handler.BindJSON(c, &b) {
			return
		}
		c.Status(http.StatusOK)
	})

	w, _ := serve(r, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"view-referrals","date":"2025-03-10"}`)))
	assert.Equal(t, http.StatusOK, w.Code)

	w, resp := serve(r, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"View Referrals"}`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "name must be kebab-case", resp.Message)
}
