package middlewares

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	limiterlib "github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"

	"feepay/pkg/limiter"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(r *gin.Engine, method, path string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestTenant(t *testing.T) {
	r := gin.New()
	r.GET("/t", Tenant(), func(c *gin.Context) {
		c.String(http.StatusOK, TenantID(c))
	})

	w := serve(r, http.MethodGet, "/t", map[string]string{HeaderTenantID: "school-1"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "school-1", w.Body.String())

	w = serve(r, http.MethodGet, "/t", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLimitIP(t *testing.T) {
	limiter.SetStore(memory.NewStoreWithOptions(limiterlib.StoreOptions{Prefix: "test"}))

	r := gin.New()
	r.GET("/limited", LimitIP("2-M"), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	for i := 0; i < 2; i++ {
		w := serve(r, http.MethodGet, "/limited", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))
	}

	w := serve(r, http.MethodGet, "/limited", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestLoggerSetsRequestID(t *testing.T) {
	r := gin.New()
	r.Use(Logger(), Recovery())
	r.GET("/ok", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/panic", func(c *gin.Context) { panic("boom") })

	w := serve(r, http.MethodGet, "/ok", map[string]string{HeaderRequestID: "req-1"})
	assert.Equal(t, "req-1", w.Header().Get(HeaderRequestID))

	w = serve(r, http.MethodGet, "/ok", nil)
	assert.NotEmpty(t, w.Header().Get(HeaderRequestID))

	w = serve(r, http.MethodGet, "/panic", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestCorsPreflight(t *testing.T) {
	r := gin.New()
	r.Use(Cors(), SecurityHeaders())
	r.OPTIONS("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := serve(r, http.MethodOptions, "/x", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), HeaderTenantID)
}
