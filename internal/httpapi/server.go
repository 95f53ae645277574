// Package httpapi serves a small read-only status API.
package httpapi

import (
	"context"
	"crypto/subtle"
	"errors"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"tweetfwd/internal/eventbus"
	"tweetfwd/internal/scheduler"
	"tweetfwd/internal/storage"
	logx "tweetfwd/pkg/logx"
)

const DefaultAddr = "127.0.0.1:8080"

var ginModeOnce sync.Once

type Config struct {
	Addr  string
	Token string // optional bearer token
	// Pprof mounts net/http/pprof under /debug/pprof, behind the token.
	Pprof bool
}

// Store is the read subset of storage.Store used here.
type Store interface {
	Stats(ctx context.Context) (storage.Stats, error)
	TrackedAccounts(ctx context.Context) ([]storage.Account, error)
	SubscribersOf(ctx context.Context, accountID int64) ([]storage.Subscriber, error)
}

type Deps struct {
	Store     Store
	Scheduler func() scheduler.Snapshot // optional
	Events    *eventbus.Recorder        // optional
}

type Server struct {
	cfg     Config
	deps    Deps
	log     logx.Logger
	started time.Time
	engine  *gin.Engine
}

func New(cfg Config, deps Deps, log logx.Logger) *Server {
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	ginModeOnce.Do(func() { gin.SetMode(gin.ReleaseMode) })
	s := &Server{cfg: cfg, deps: deps, log: log, started: time.Now()}
	s.engine = s.routes()
	return s
}

func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLog())
	r.GET("/healthz", s.healthz)

	api := r.Group("/")
	if s.cfg.Token != "" {
		api.Use(bearerAuth(s.cfg.Token))
	}
	api.GET("/status", s.status)
	api.GET("/accounts", s.accounts)
	if s.cfg.Pprof {
		mountPprof(api.Group("/debug/pprof"))
	}
	return r
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.log.Info("http api listening", logx.String("addr", ln.Addr().String()))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		_ = srv.Close()
		return err
	}
	return nil
}

func bearerAuth(token string) gin.HandlerFunc {
	expected := []byte("Bearer " + token)
	return func(c *gin.Context) {
		if subtle.ConstantTimeCompare([]byte(c.GetHeader("Authorization")), expected) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("http request",
			logx.String("method", c.Request.Method),
			logx.String("path", c.FullPath()),
			logx.Int("status", c.Writer.Status()),
			logx.Duration("dur", time.Since(start)),
		)
	}
}

func mountPprof(g *gin.RouterGroup) {
	g.GET("/", gin.WrapF(hpprof.Index))
	g.GET("/cmdline", gin.WrapF(hpprof.Cmdline))
	g.GET("/profile", gin.WrapF(hpprof.Profile))
	g.GET("/symbol", gin.WrapF(hpprof.Symbol))
	g.GET("/trace", gin.WrapF(hpprof.Trace))
	g.GET("/:name", func(c *gin.Context) {
		hpprof.Handler(c.Param("name")).ServeHTTP(c.Writer, c.Request)
	})
}

func respondError(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}
