// Package httpgw is a request/response HTTP endpoint independent of the
// session core: it shares no state with it and is a thin pass-through to the
// HTTP library. Embedders register handlers and run it next to (or instead
// of) a session.
package httpgw

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/KevinMorrison-629/QuickNet/pkg/codec"
)

// Server wraps a gin engine with recovery, request logging, and CORS
// defaults suitable for web development.
type Server struct {
	router *gin.Engine
	srv    *http.Server
}

// New builds a gateway. corsOrigins lists the allowed browser origins; empty
// allows all.
func New(corsOrigins []string) *Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogger(zap.L()))

	corsCfg := cors.Config{
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}
	if len(corsOrigins) == 0 {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = corsOrigins
	}
	r.Use(cors.New(corsCfg))

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"error": http.StatusText(http.StatusNotFound),
			"path":  c.Request.URL.Path,
		})
	})

	return &Server{router: r}
}

// GET registers a handler for GET requests on path.
func (s *Server) GET(path string, handler gin.HandlerFunc) { s.router.GET(path, handler) }

// POST registers a handler for POST requests on path.
func (s *Server) POST(path string, handler gin.HandlerFunc) { s.router.POST(path, handler) }

// Router exposes the underlying engine for anything beyond GET/POST.
func (s *Server) Router() *gin.Engine { return s.router }

// ServeStaticFiles mounts dir at mount. Fails when dir does not exist rather
// than serving 404s for everything.
func (s *Server) ServeStaticFiles(mount, dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return errors.New("httpgw: static path is not a directory")
	}
	s.router.Static(mount, dir)
	zap.L().Info("httpgw: serving static files", zap.String("dir", dir), zap.String("mount", mount))
	return nil
}

// Run serves on addr until Stop. Blocking.
func (s *Server) Run(addr string) error {
	s.srv = &http.Server{Addr: addr, Handler: s.router}
	zap.L().Info("httpgw: serving", zap.String("addr", addr))
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop shuts the server down gracefully. Safe to call when never started.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// ErrUnsupportedContentType is returned by DecodeBody when no codec is
// registered for the request's Content-Type; handlers should answer with 415.
var ErrUnsupportedContentType = errors.New("httpgw: unsupported content type")

// DecodeBody decodes the request body into v with the codec negotiated from
// the Content-Type header against reg. An absent Content-Type falls back to
// JSON.
func DecodeBody(c *gin.Context, reg *codec.Registry, v any) error {
	ct := c.ContentType()
	if ct == "" {
		ct = "application/json"
	}
	cd := reg.Get(ct)
	if cd == nil {
		return fmt.Errorf("%w: %q", ErrUnsupportedContentType, ct)
	}
	body, err := c.GetRawData()
	if err != nil {
		return fmt.Errorf("httpgw: read body: %w", err)
	}
	return cd.Unmarshal(body, v)
}

// RequestLogger logs one line per request, warning on 4xx and erroring on
// 5xx.
func RequestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		log := logger.Info
		if status >= 500 {
			log = logger.Error
		} else if status >= 400 {
			log = logger.Warn
		}
		log("http_request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", status),
			zap.Duration("duration", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
			zap.Int("bytes", c.Writer.Size()),
		)
	}
}
