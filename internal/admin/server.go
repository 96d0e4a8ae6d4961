package admin

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danmuck/rbmirror/internal/auth"
	"github.com/danmuck/rbmirror/internal/observability"
	"github.com/danmuck/rbmirror/internal/protocol/session"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

const version = "0.1.0"

// Options configures optional admin behaviour.
type Options struct {
	CORSOrigins []string
	// Auth guards mutating routes. Nil allows every caller.
	Auth auth.Validator
}

// Server serves the admin API for one session.
type Server struct {
	Name     string
	Addr     string
	Appeared time.Time

	session *session.Session
	router  *gin.Engine
	auth    auth.Validator
	logger  zerolog.Logger
}

func New(name, addr string, sess *session.Session, opts Options) *Server {
	observability.RegisterMetrics()
	logger := observability.Component("admin")
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(logger))
	r.Use(observability.RequestMetrics(name))
	r.Use(cors.New(cors.Config{
		AllowOrigins:  normalizeOrigins(opts.CORSOrigins),
		AllowMethods:  []string{"GET", "POST"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization", observability.RequestIDHeader},
		ExposeHeaders: []string{observability.RequestIDHeader},
		MaxAge:        12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})
	if opts.Auth == nil {
		opts.Auth = auth.AllowAll{}
	}

	s := &Server{
		Name:     name,
		Addr:     addr,
		Appeared: time.Now(),
		session:  sess,
		router:   r,
		auth:     opts.Auth,
		logger:   logger,
	}
	s.registerRoutes()
	return s
}

func (s *Server) HTTPRouter() *gin.Engine { return s.router }

// Serve listens on Addr until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.Addr).Msg("admin listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info().Msg("admin stopped")
	return nil
}

// requireToken rejects callers whose bearer token the validator refuses.
func (s *Server) requireToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := auth.BearerToken(c.GetHeader("Authorization"))
		if err := s.auth.Validate(token); err != nil {
			s.logger.Warn().Str("path", c.Request.URL.Path).Str("client_ip", c.ClientIP()).Msg("admin request unauthorized")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.Next()
	}
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
