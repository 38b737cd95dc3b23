package api

import (
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"ohlcv-engine/internal/logger"
)

const requestIDHeader = "X-Request-ID"

// NewRouter builds the HTTP surface: REST routes under /api and the
// WebSocket command channel at /ws. Browser requests are accepted from the
// server's own origin and from allowedOrigins (exact scheme://host[:port]).
func NewRouter(d *Dispatcher, hub *Hub, allowedOrigins []string) *gin.Engine {
	origins := newOriginPolicy(allowedOrigins)

	r := gin.New()
	r.Use(gin.Recovery(), requestID(), accessLog(d), cors(origins))

	api := r.Group("/api")
	{
		api.POST("/ingest", d.rest(CmdIngest, body))
		api.POST("/resample", d.rest(CmdResample, body))
		api.POST("/indicators", d.rest(CmdIndicators, body))

		api.GET("/cache", d.rest(CmdCacheStatus, none))
		api.DELETE("/cache", d.rest(CmdClearCache, none))

		api.GET("/history", d.rest(CmdListHistory, none))
		api.POST("/history", d.rest(CmdRecordHistory, body))

		api.GET("/presets", d.rest(CmdListPresets, none))
		api.PUT("/presets", d.rest(CmdSavePreset, body))
		api.GET("/presets/:name", d.rest(CmdLoadPreset, nameParam))
		api.DELETE("/presets/:name", d.rest(CmdDeletePreset, nameParam))

		api.GET("/intervals", d.rest(CmdIntervals, none))
	}
	r.GET("/ws", d.serveWS(hub, origins))

	return r
}

type argsFunc func(c *gin.Context) (json.RawMessage, error)

func body(c *gin.Context) (json.RawMessage, error) {
	data, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return nil, badRequestf("read body: %v", err)
	}
	return data, nil
}

func none(*gin.Context) (json.RawMessage, error) { return nil, nil }

func nameParam(c *gin.Context) (json.RawMessage, error) {
	return json.Marshal(nameArgs{Name: c.Param("name")})
}

// rest adapts a command to a JSON route. Success writes the command's data;
// failure writes {"error": ErrorBody} with the mapped status.
func (d *Dispatcher) rest(cmd string, args argsFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, err := args(c)
		if err != nil {
			c.JSON(statusFor(err), gin.H{"error": errorBody(err)})
			return
		}
		data, err := d.Run(c.Request.Context(), cmd, raw)
		if err != nil {
			c.JSON(statusFor(err), gin.H{"error": errorBody(err)})
			return
		}
		c.JSON(http.StatusOK, data)
	}
}

// requestID propagates X-Request-ID, minting one when absent, as the trace id.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Header(requestIDHeader, id)
		c.Request = c.Request.WithContext(logger.WithTraceID(c.Request.Context(), id))
		c.Next()
	}
}

func accessLog(d *Dispatcher) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		d.log.Info("http request", append(logger.LogWithTrace(c.Request.Context()),
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"ms", time.Since(start).Milliseconds())...)
	}
}

// originPolicy decides which browser origins may issue commands. Requests
// without an Origin header come from non-browser clients and always pass.
type originPolicy struct {
	allowed map[string]struct{}
}

func newOriginPolicy(origins []string) originPolicy {
	p := originPolicy{allowed: make(map[string]struct{}, len(origins))}
	for _, o := range origins {
		o = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(o)), "/")
		if o != "" {
			p.allowed[o] = struct{}{}
		}
	}
	return p
}

func (p originPolicy) allows(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if _, ok := p.allowed[strings.ToLower(origin)]; ok {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}

// cors rejects cross-origin requests from origins outside the policy, simple
// requests included, and echoes allowed origins back.
func cors(p originPolicy) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if !p.allows(c.Request) {
			d := ErrorBody{Kind: KindForbidden, Detail: "origin not allowed: " + origin}
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": d})
			return
		}
		if origin != "" {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Content-Type, "+requestIDHeader)
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
