// Package prompt collects interactive session input on a terminal.
package prompt

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"

	"ai-gateway/internal/auth"
)

// ErrAborted is returned when the user cancels a prompt.
var ErrAborted = errors.New("prompt aborted")

// Terminal implements auth.Prompter with huh forms.
type Terminal struct {
	// Accessible renders plain line based prompts, e.g. for screen readers
	// or non interactive pipes.
	Accessible bool

	run func(ctx context.Context, form *huh.Form) error
}

// NewTerminal creates a terminal prompter.
func NewTerminal(accessible bool) *Terminal {
	return &Terminal{Accessible: accessible}
}

var _ auth.Prompter = (*Terminal)(nil)

// ChooseMethod asks how the new session authenticates.
func (t *Terminal) ChooseMethod(ctx context.Context) (auth.Method, error) {
	var method string
	field := huh.NewSelect[string]().
		Title("How do you want to authenticate?").
		Options(methodOptions()...).
		Value(&method)
	if err := t.ask(ctx, field); err != nil {
		return "", err
	}
	return auth.Method(method), nil
}

// Label asks for a display name of the session.
func (t *Terminal) Label(ctx context.Context) (string, error) {
	var label string
	field := huh.NewInput().
		Title("Session label").
		Placeholder("API key").
		Value(&label)
	if err := t.ask(ctx, field); err != nil {
		return "", err
	}
	return strings.TrimSpace(label), nil
}

// APIKey asks for the key without echoing it. The key is returned as
// entered.
func (t *Terminal) APIKey(ctx context.Context) (string, error) {
	var key string
	field := huh.NewInput().
		Title("AI Gateway API key").
		EchoMode(huh.EchoModePassword).
		Validate(validateAPIKey).
		Value(&key)
	if err := t.ask(ctx, field); err != nil {
		return "", err
	}
	return key, nil
}

func (t *Terminal) ask(ctx context.Context, field huh.Field) error {
	form := huh.NewForm(huh.NewGroup(field)).WithAccessible(t.Accessible)
	run := t.run
	if run == nil {
		run = func(ctx context.Context, form *huh.Form) error { return form.RunWithContext(ctx) }
	}
	if err := run(ctx, form); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return ErrAborted
		}
		return fmt.Errorf("prompt: %w", err)
	}
	return nil
}

func methodOptions() []huh.Option[string] {
	return []huh.Option[string]{
		huh.NewOption("API key", string(auth.MethodAPIKey)),
		huh.NewOption("Vercel CLI identity (OIDC)", string(auth.MethodOIDC)),
	}
}

func validateAPIKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return auth.ErrEmptyAPIKey
	}
	return nil
}
