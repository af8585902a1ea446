// Package web is the gin HTTP facade over the subscription service and the
// Dispatch Core.
package web

import (
	"context"
	"html/template"
	"net/http"
	"strings"
	"time"

	"horoscope_dispatcher/internal/app"
	"horoscope_dispatcher/internal/infra/ratelimit"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Subscriptions is the service surface the handlers call.
type Subscriptions interface {
	Signup(ctx context.Context, req app.SignupRequest) (*app.SignupResult, error)
	RequestSend(ctx context.Context, email string) (app.SendResult, error)
	Unsubscribe(ctx context.Context, email string) (app.UnsubscribeResult, error)
	UnsubscribeByToken(ctx context.Context, token string) (app.UnsubscribeResult, error)
	UnsubscribeByEmailLink(ctx context.Context, email string) (app.UnsubscribeResult, error)
}

type TickRunner interface {
	RunTick(ctx context.Context) (app.TickReport, error)
}

// HTTPObserver receives per-request timings, e.g. metrics.Collectors.
type HTTPObserver interface {
	ObserveHTTP(route string, status int, elapsed time.Duration)
}

type Deps struct {
	Subscriptions Subscriptions
	Ticks         TickRunner
	Limiter       ratelimit.Limiter // nil disables rate limiting
	Observer      HTTPObserver      // optional
	Metrics       http.Handler      // served at /metrics when set
}

type Config struct {
	Environment string
	// CronSecret guards POST /tasks/tick; empty disables the endpoint.
	CronSecret  string
	CORSOrigins []string
}

type Server struct {
	router *gin.Engine
	deps   Deps
	cfg    Config
	logger *logrus.Entry
}

func NewServer(deps Deps, cfg Config, logger *logrus.Entry) *Server {
	switch cfg.Environment {
	case "production", "staging":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	}

	router := gin.New()
	router.HandleMethodNotAllowed = true
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))
	if deps.Observer != nil {
		router.Use(observe(deps.Observer))
	}
	router.Use(cors.New(corsConfig(cfg.CORSOrigins)))
	router.SetHTMLTemplate(template.Must(template.New("unsubscribe").Parse(unsubscribePage)))

	s := &Server{router: router, deps: deps, cfg: cfg, logger: logger}
	s.registerRoutes()
	return s
}

func corsConfig(origins []string) cors.Config {
	c := cors.Config{
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}
	if len(origins) == 0 {
		c.AllowAllOrigins = true
		return c
	}
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[strings.TrimRight(strings.TrimSpace(o), "/")] = true
	}
	c.AllowOriginFunc = func(origin string) bool { return allowed[origin] }
	return c
}

func (s *Server) registerRoutes() {
	r := s.router
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if s.deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(s.deps.Metrics))
	}

	r.POST("/signup", s.limit("signup"), s.handleSignup)
	r.POST("/request", s.limit("request"), s.handleRequest)
	r.POST("/unsubscribe", s.limit("unsubscribe"), s.handleUnsubscribe)
	r.GET("/unsubscribe", s.limit("unsubscribe_link"), s.handleUnsubscribeLink)

	r.POST("/tasks/tick", cronAuth(s.cfg.CronSecret), s.handleTick)
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }
