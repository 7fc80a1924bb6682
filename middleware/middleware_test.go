package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	midsec "MotPad/middleware/security"
	"MotPad/tools/errs"
	jwtsec "MotPad/tools/security"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() { gin.SetMode(gin.TestMode) }

func do(r http.Handler, method, target string, hdr map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestManagerOrderAndAbort(t *testing.T) {
	var order []string
	m := NewManager(func(c *gin.Context) { order = append(order, "a") })
	m.Add(func(c *gin.Context) {
		order = append(order, "b")
		if c.Query("stop") != "" {
			c.AbortWithStatus(http.StatusTeapot)
		}
	})
	assert.Equal(t, 2, m.Len())

	r := gin.New()
	r.Use(m.Use())
	r.GET("/x", func(c *gin.Context) {
		order = append(order, "h")
		c.Status(http.StatusOK)
	})

	w := do(r, http.MethodGet, "/x", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"a", "b", "h"}, order)

	order = nil
	w = do(r, http.MethodGet, "/x?stop=1", nil)
	assert.Equal(t, http.StatusTeapot, w.Code)
	assert.Equal(t, []string{"a", "b"}, order)

	m.Clear()
	assert.Equal(t, 0, m.Len())
}

func TestRouteWithAuth(t *testing.T) {
	tok := jwtsec.DefaultOptions([]byte("s"))
	aud := jwtsec.ServerAudience("mot")
	opts := midsec.DefaultOptions(tok, aud)
	opts.Role = jwtsec.RoleSendToGroup

	r := gin.New()
	POST(r, "/send", func(c *gin.Context) {
		claims, ok := midsec.Claims(c)
		require.True(t, ok)
		c.String(http.StatusOK, claims.Subject())
	}, RouteOpt{Auth: opts})
	GET(r, "/open", func(c *gin.Context) { c.Status(http.StatusOK) }, RouteOpt{})

	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/open", nil).Code)

	w := do(r, http.MethodPost, "/send", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	var ce errs.CodeError
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ce))
	assert.Equal(t, errs.TokenMissing, ce.Code)

	w = do(r, http.MethodPost, "/send", map[string]string{"Authorization": "Bearer nope"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	noRole, _, err := jwtsec.Generate(tok, "svc", aud, nil)
	require.NoError(t, err)
	w = do(r, http.MethodPost, "/send", map[string]string{"Authorization": "Bearer " + noRole})
	assert.Equal(t, http.StatusForbidden, w.Code)

	good, _, err := jwtsec.Generate(tok, "svc", aud, []string{jwtsec.RoleSendToGroup})
	require.NoError(t, err)
	w = do(r, http.MethodPost, "/send", map[string]string{"Authorization": "Bearer " + good})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "svc", w.Body.String())
}

func TestOrigin(t *testing.T) {
	r := gin.New()
	r.Use(Origin([]string{"http://app.local/"}))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := do(r, http.MethodGet, "/x", map[string]string{"Origin": "http://app.local"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "http://app.local", w.Header().Get("Access-Control-Allow-Origin"))

	w = do(r, http.MethodOptions, "/x", map[string]string{"Origin": "http://app.local"})
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = do(r, http.MethodOptions, "/x", map[string]string{"Origin": "http://evil.local"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = do(r, http.MethodGet, "/x", map[string]string{"Origin": "http://evil.local"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRecovery(t *testing.T) {
	r := gin.New()
	r.Use(Recovery(zap.NewNop()), RequestLog(zap.NewNop()))
	r.GET("/boom", func(c *gin.Context) { panic("boom") })

	w := do(r, http.MethodGet, "/boom", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	var ce errs.CodeError
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ce))
	assert.Equal(t, errs.ServerInternalError, ce.Code)
	assert.Equal(t, "boom", ce.Detail)
}
