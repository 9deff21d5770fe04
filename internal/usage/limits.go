// Package usage checks estimated requests against per family budgets and
// keeps per account usage counters.
package usage

import (
	"errors"
	"fmt"
	"strings"
)

// Budget errors
var (
	ErrContextWindowExceeded = errors.New("context window exceeded")
	ErrRateLimitExceeded     = errors.New("rate limit exceeded")
)

// Limits is the budget of a model family. A zero field is unlimited.
type Limits struct {
	ContextWindow        int `yaml:"context_window" json:"contextWindow"`
	MaxRequestsPerMinute int `yaml:"max_requests_per_minute" json:"maxRequestsPerMinute"`
	MaxTokensPerMinute   int `yaml:"max_tokens_per_minute" json:"maxTokensPerMinute"`
	MaxTokensPerDay      int `yaml:"max_tokens_per_day" json:"maxTokensPerDay"`
}

// FamilyLimits applies Limits to families whose lowercased name contains
// Match.
type FamilyLimits struct {
	Match  string `yaml:"match" json:"match"`
	Limits `yaml:",inline"`
}

// Table resolves the limits of a family. The first matching entry wins;
// Default applies when nothing matches.
type Table struct {
	Families []FamilyLimits `yaml:"families"`
	Default  Limits         `yaml:"default"`
}

// DefaultLimits returns conservative budgets for common model families.
func DefaultLimits() Table {
	return Table{
		Families: []FamilyLimits{
			{Match: "gpt-4.1", Limits: Limits{ContextWindow: 1047576, MaxRequestsPerMinute: 60, MaxTokensPerMinute: 200000, MaxTokensPerDay: 5000000}},
			{Match: "gpt-5", Limits: Limits{ContextWindow: 400000, MaxRequestsPerMinute: 60, MaxTokensPerMinute: 200000, MaxTokensPerDay: 5000000}},
			{Match: "gpt-4o", Limits: Limits{ContextWindow: 128000, MaxRequestsPerMinute: 60, MaxTokensPerMinute: 150000, MaxTokensPerDay: 3000000}},
			{Match: "claude", Limits: Limits{ContextWindow: 200000, MaxRequestsPerMinute: 50, MaxTokensPerMinute: 100000, MaxTokensPerDay: 2500000}},
			{Match: "gemini", Limits: Limits{ContextWindow: 1048576, MaxRequestsPerMinute: 60, MaxTokensPerMinute: 250000, MaxTokensPerDay: 5000000}},
		},
		Default: Limits{ContextWindow: 8192, MaxRequestsPerMinute: 25, MaxTokensPerMinute: 5000, MaxTokensPerDay: 100000},
	}
}

// For returns the limits of family.
func (t Table) For(family string) Limits {
	f := strings.ToLower(family)
	for _, fl := range t.Families {
		if fl.Match != "" && strings.Contains(f, strings.ToLower(fl.Match)) {
			return fl.Limits
		}
	}
	return t.Default
}

// CheckRequest verifies that a request of estimated tokens fits the
// context window and that sending it keeps the account within its rate
// limits.
func CheckRequest(limits Limits, estimated int, current Usage) error {
	if limits.ContextWindow > 0 && estimated > limits.ContextWindow {
		return fmt.Errorf("%w: request needs %d tokens, window is %d",
			ErrContextWindowExceeded, estimated, limits.ContextWindow)
	}
	if limits.MaxRequestsPerMinute > 0 && current.RequestsThisMinute+1 > limits.MaxRequestsPerMinute {
		return fmt.Errorf("%w: maximum requests_per_minute reached", ErrRateLimitExceeded)
	}
	if limits.MaxTokensPerMinute > 0 && current.TokensThisMinute+estimated > limits.MaxTokensPerMinute {
		return fmt.Errorf("%w: maximum tokens_per_minute reached", ErrRateLimitExceeded)
	}
	if limits.MaxTokensPerDay > 0 && current.TokensThisDay+estimated > limits.MaxTokensPerDay {
		return fmt.Errorf("%w: maximum tokens_per_day reached", ErrRateLimitExceeded)
	}
	return nil
}
