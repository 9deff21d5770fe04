package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"ai-gateway/internal/app"
	"ai-gateway/internal/auth"
	"ai-gateway/internal/usage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the admin HTTP API",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	sessions, closeSessions, err := newSessionStore(ctx, cfg, reg, true)
	if err != nil {
		return err
	}
	defer closeSessions()

	unsubscribe := sessions.Subscribe(func(ev auth.SessionsChangeEvent) {
		log.WithFields(logrus.Fields{
			"added":   len(ev.Added),
			"removed": len(ev.Removed),
			"changed": len(ev.Changed),
		}).Info("sessions changed")
	})
	defer unsubscribe()

	estimator, err := newEstimator(cfg, reg)
	if err != nil {
		return err
	}

	if len(cfg.Auth.ValidAPIKeys) == 0 && !cfg.Auth.Disabled {
		log.Warn("no VALID_API_KEYS configured: every admin API request will be rejected")
	}
	if cfg.Auth.Disabled {
		log.Warn("API authorization is disabled - all requests will be accepted")
	}

	billing := usage.NewStripeReporter(cfg.Stripe.APIKey, log)
	if billing.Enabled() {
		log.WithField("subscription_item", cfg.Stripe.SubscriptionItem).Info("reporting usage to stripe")
	}

	a := app.New(app.Options{
		Sessions:         sessions,
		Estimator:        estimator,
		Limits:           cfg.Limits,
		Tracker:          usage.NewTracker(nil, reg),
		Billing:          billing,
		SubscriptionItem: cfg.Stripe.SubscriptionItem,
		ValidAPIKeys:     cfg.Auth.ValidAPIKeys,
		DisableAuth:      cfg.Auth.Disabled,
		Gatherer:         reg,
		Logger:           log,
	})
	return a.Serve(ctx, cfg.Server.Addr, cfg.Server.ShutdownTimeout)
}

// commandContext returns the command's context, or a background one when
// the command runs outside Execute, e.g. in tests.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
