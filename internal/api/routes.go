package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter builds the gin engine serving every ingress route: native
// per-provider endpoints, OpenAI-compat cross-format endpoints, the admin
// CRUD surface, and /metrics.
func NewRouter(app *App) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	ingress := r.Group("/")
	ingress.Use(ginBearerAuth(app.Config.Password))
	{
		ingress.POST("/code/v1/messages", app.handleClaudeCodeMessages)
		ingress.POST("/v1/messages", app.handleClaudeWebMessages)
		ingress.POST("/v1/chat/completions", app.handleOpenAICompatClaude)
		ingress.POST("/gemini/chat/completions", app.handleOpenAICompatGemini)
		ingress.POST("/v1beta/models/:modelAction", app.handleGeminiNative)
		ingress.POST("/v1/vertex/models/:modelAction", app.handleVertexNative)
	}

	admin := r.Group("/admin")
	admin.Use(ginBearerAuth(app.Config.AdminPassword))
	{
		admin.GET("/credentials/:kind", app.handleAdminList)
		admin.POST("/credentials/:kind", app.handleAdminAdd)
		admin.DELETE("/credentials/:kind/:id", app.handleAdminRemove)
		admin.POST("/credentials/:kind/:id/waste", app.handleAdminWaste)
		admin.GET("/config", app.handleAdminConfig)
		admin.POST("/config", app.handleAdminSaveConfig)
		admin.GET("/storage/status", app.handleAdminStorageStatus)
		admin.GET("/storage/export", app.handleAdminStorageExport)
		admin.POST("/storage/import", app.handleAdminStorageImport)
	}

	return r
}

// ginBearerAuth mirrors middleware.BearerAuth's constant-time comparison
// as a gin.HandlerFunc; gin's routing groups don't compose with the
// net/http middleware chain middleware.BearerAuth returns.
func ginBearerAuth(want string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if want == "" {
			c.Next()
			return
		}
		got := bearerToken(c.Request)
		if len(got) != len(want) || subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"type":    "auth_failure",
				"message": "invalid or missing bearer token",
			})
			return
		}
		c.Next()
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	if k := r.Header.Get("x-api-key"); k != "" {
		return k
	}
	if k := r.URL.Query().Get("key"); k != "" {
		return k
	}
	return ""
}
