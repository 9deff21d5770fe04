// Package app exposes the session store, token estimator and usage
// accounting over an admin HTTP API.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"ai-gateway/internal/auth"
	"ai-gateway/internal/tokens"
	"ai-gateway/internal/usage"
)

// Sessions is the part of auth.Store the API needs.
type Sessions interface {
	GetSessions(ctx context.Context) ([]auth.Session, error)
	RemoveSession(ctx context.Context, id string) error
}

// Options wires an App.
type Options struct {
	Sessions  Sessions
	Estimator *tokens.Estimator
	Limits    usage.Table
	Tracker   *usage.Tracker
	Billing   *usage.StripeReporter
	// SubscriptionItem receives metered usage when Billing is enabled.
	SubscriptionItem string

	ValidAPIKeys []string
	DisableAuth  bool

	Gatherer prometheus.Gatherer
	Logger   logrus.FieldLogger
}

// App represents the admin API with its router.
type App struct {
	Router *gin.Engine

	sessions         Sessions
	estimator        *tokens.Estimator
	limits           usage.Table
	tracker          *usage.Tracker
	billing          *usage.StripeReporter
	subscriptionItem string
	validKeys        []string
	disableAuth      bool
	gatherer         prometheus.Gatherer
	log              logrus.FieldLogger
}

// New creates the App and registers its routes.
func New(opts Options) *App {
	a := &App{
		Router:           gin.New(),
		sessions:         opts.Sessions,
		estimator:        opts.Estimator,
		limits:           opts.Limits,
		tracker:          opts.Tracker,
		billing:          opts.Billing,
		subscriptionItem: opts.SubscriptionItem,
		validKeys:        opts.ValidAPIKeys,
		disableAuth:      opts.DisableAuth,
		gatherer:         opts.Gatherer,
		log:              opts.Logger,
	}
	if a.log == nil {
		a.log = logrus.StandardLogger()
	}
	if a.tracker == nil {
		a.tracker = usage.NewTracker(nil, nil)
	}
	if a.gatherer == nil {
		a.gatherer = prometheus.DefaultGatherer
	}

	a.Router.Use(gin.Recovery(), a.requestLogger())
	a.initializeRoutes()
	return a
}

func (a *App) initializeRoutes() {
	a.Router.GET("/status", a.handleStatus)
	a.Router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(a.gatherer, promhttp.HandlerOpts{})))

	api := a.Router.Group("/", a.requireAPIKey())
	api.GET("/sessions", a.handleListSessions)
	api.DELETE("/sessions/:id", a.handleRemoveSession)
	api.POST("/estimate", a.handleEstimate)
	api.POST("/usage", a.handleRecordUsage)
}

func (a *App) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		a.log.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.FullPath(),
			"status":   c.Writer.Status(),
			"duration": time.Since(start),
		}).Debug("handled request")
	}
}

// Serve runs the API on addr until ctx is cancelled, then shuts down
// within shutdownTimeout.
func (a *App) Serve(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           a.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.WithField("addr", addr).Info("starting admin API")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	a.log.Info("admin API stopped")
	return nil
}
