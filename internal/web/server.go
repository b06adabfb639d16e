// Package web serves the Battle.net authorization pages, the cron trigger
// and the operational endpoints.
package web

import (
	"context"
	"crypto/subtle"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"wowsync/internal/authstate"
	"wowsync/internal/bnet"
	"wowsync/internal/storage"
	"wowsync/internal/version"
	"wowsync/pkg/jobmgr"
)

type Config struct {
	Addr    string
	RootURL string
	// CronToken protects /cron/run when set.
	CronToken string
	// Style replaces the built-in CSS when set.
	Style string
}

// Store is the part of the storage the handlers read.
type Store interface {
	HMACKeyByID(ctx context.Context, id int64) (string, error)
	RemoteSystemByID(ctx context.Context, id int64) (*storage.RemoteSystem, error)
}

// Authorizer runs the Battle.net OAuth2 authorization code flow.
type Authorizer interface {
	StartUserAuthorization(region bnet.Region) bnet.AuthState
	FinishUserAuthorization(ctx context.Context, st bnet.AuthState, query url.Values) (*bnet.UserClient, error)
}

// Syncer is the sync runner.
type Syncer interface {
	Run(ctx context.Context) error
	Start(ctx context.Context) error
	AuthFinished(ctx context.Context, rs storage.RemoteSystem, remoteUserID int64, user *bnet.UserClient) (string, error)
	Jobs() *jobmgr.Manager
}

type Server struct {
	cfg      Config
	store    Store
	auth     Authorizer
	sessions *authstate.Sessions
	syncer   Syncer
	engine   *gin.Engine
}

// New builds the routes. gatherer may be nil to leave out /metrics.
func New(cfg Config, store Store, auth Authorizer, sessions *authstate.Sessions, syncer Syncer, gatherer prometheus.Gatherer) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{cfg: cfg, store: store, auth: auth, sessions: sessions, syncer: syncer}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger, s.renderErrors)

	r.GET("/auth/start", requireQuery("systemId", "userId", "mac"), s.authStart)
	r.GET("/auth/finish", s.authFinish)
	r.GET("/cron/run", s.cronRun)
	r.GET("/healthz", s.healthz)
	if gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	s.engine = r
	return s
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is done and then shuts the server down.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		log.Println("[INFO] Shutting down web server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx) //nolint:errcheck
	}()

	log.Printf("[INFO] Web server listening on %s (%s)", s.cfg.Addr, s.cfg.RootURL)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func requestLogger(c *gin.Context) {
	start := time.Now()
	c.Next()
	log.Printf("[DEBUG] %s %s -> %d (%v)", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
}

// cronRun performs one sync. The run is not tied to the request so a
// client hanging up does not abort it. With async=1 it answers 202 once
// the run has started.
func (s *Server) cronRun(c *gin.Context) {
	if s.cfg.CronToken != "" {
		token := c.Query("token")
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.CronToken)) != 1 {
			c.String(http.StatusForbidden, "invalid token")
			return
		}
	}

	ctx := context.WithoutCancel(c.Request.Context())
	run, status := s.syncer.Run, http.StatusOK
	if async, _ := strconv.ParseBool(c.Query("async")); async {
		run, status = s.syncer.Start, http.StatusAccepted
	}
	if err := run(ctx); err != nil {
		c.Error(err).SetMeta(err.Error())
		return
	}
	c.String(status, "")
}

func (s *Server) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"version": version.Version,
		"jobs":    s.syncer.Jobs().List(),
		"summary": s.syncer.Jobs().Status(),
	})
}
