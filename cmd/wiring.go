package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"ai-gateway/internal/auth"
	"ai-gateway/internal/config"
	"ai-gateway/internal/oidc"
	"ai-gateway/internal/prompt"
	"ai-gateway/internal/secrets"
	"ai-gateway/internal/tokens"
)

// openSecrets opens the configured secret store. The returned function
// releases it.
func openSecrets(ctx context.Context, c *config.Config, watch bool) (secrets.Store, func(), error) {
	switch c.Secrets.Backend {
	case config.BackendMemory:
		return secrets.NewMemoryStore(), func() {}, nil
	case config.BackendBadger:
		store, err := secrets.OpenBadger(c.Secrets.Path, log)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {
			if err := store.Close(); err != nil {
				log.WithError(err).Warn("failed to close secret database")
			}
		}, nil
	case config.BackendFile:
		store := secrets.NewFileStore(c.Secrets.Path, log)
		if watch {
			if err := store.Watch(ctx); err != nil {
				log.WithError(err).Warn("secret file changes from other processes will not be seen")
			}
		}
		return store, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown secrets backend %q", c.Secrets.Backend)
	}
}

func newDelegate(c *config.Config) (*oidc.Client, error) {
	authPath := c.Vercel.AuthPath
	if authPath == "" {
		p, err := oidc.CLIAuthPath()
		if err != nil {
			return nil, err
		}
		authPath = p
	}
	client := oidc.NewClient(authPath, log)
	client.BaseURL = c.Vercel.BaseURL
	client.HTTPClient = &http.Client{Timeout: c.Vercel.Timeout}
	client.Project = c.LinkedProject()
	return client, nil
}

// newSessionStore wires a session store. The returned function closes the
// store and its secret backend.
func newSessionStore(ctx context.Context, c *config.Config, reg prometheus.Registerer, watch bool) (*auth.Store, func(), error) {
	store, closeSecrets, err := openSecrets(ctx, c, watch)
	if err != nil {
		return nil, nil, err
	}
	delegate, err := newDelegate(c)
	if err != nil {
		closeSecrets()
		return nil, nil, err
	}
	sessions := auth.NewStore(auth.Options{
		Secrets:       store,
		Delegate:      delegate,
		Prompter:      prompt.NewTerminal(false),
		RefreshWindow: c.Sessions.RefreshWindow,
		Logger:        log,
		Registerer:    reg,
	})
	return sessions, func() {
		sessions.Close()
		closeSecrets()
	}, nil
}

func newEstimator(c *config.Config, reg prometheus.Registerer) (*tokens.Estimator, error) {
	return tokens.New(tokens.Options{
		CacheSize:  c.Tokens.CacheSize,
		Logger:     log,
		Registerer: reg,
	})
}
