package usage

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Usage is the consumption of one account on one model family.
type Usage struct {
	Account            string `json:"account"`
	Family             string `json:"family"`
	RequestsThisMinute int    `json:"requestsThisMinute"`
	TokensThisMinute   int    `json:"tokensThisMinute"`
	TokensThisDay      int    `json:"tokensThisDay"`
}

type usageKey struct {
	account string
	family  string
}

type counters struct {
	Usage
	minute time.Time
	day    time.Time
}

// Tracker keeps per minute and per day counters in memory.
type Tracker struct {
	now func() time.Time

	mu      sync.RWMutex
	entries map[usageKey]*counters

	recorded *prometheus.CounterVec
}

// NewTracker creates a Tracker. A nil now uses time.Now; a nil reg leaves
// the metrics unregistered.
func NewTracker(now func() time.Time, reg prometheus.Registerer) *Tracker {
	if now == nil {
		now = time.Now
	}
	return &Tracker{
		now:     now,
		entries: make(map[usageKey]*counters),
		recorded: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "ai_gateway",
			Subsystem: "usage",
			Name:      "tokens_recorded_total",
			Help:      "Tokens recorded against accounts by model family.",
		}, []string{"family"}),
	}
}

// Record adds one request of tokens to account's usage of family.
func (t *Tracker) Record(account, family string, tokens int) Usage {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := usageKey{account, family}
	c, ok := t.entries[key]
	if !ok {
		c = &counters{Usage: Usage{Account: account, Family: family}}
		t.entries[key] = c
	}
	t.roll(c)
	c.RequestsThisMinute++
	c.TokensThisMinute += tokens
	c.TokensThisDay += tokens

	t.recorded.WithLabelValues(family).Add(float64(tokens))
	return c.Usage
}

// Usage returns account's current usage of family.
func (t *Tracker) Usage(account, family string) Usage {
	t.mu.RLock()
	c, ok := t.entries[usageKey{account, family}]
	if !ok {
		t.mu.RUnlock()
		return Usage{Account: account, Family: family}
	}
	snapshot := *c
	t.mu.RUnlock()

	t.roll(&snapshot)
	return snapshot.Usage
}

// roll resets the windows of c that have elapsed.
func (t *Tracker) roll(c *counters) {
	now := t.now()
	minute := now.Truncate(time.Minute)
	day := now.UTC().Truncate(24 * time.Hour)
	if !c.minute.Equal(minute) {
		c.minute = minute
		c.RequestsThisMinute = 0
		c.TokensThisMinute = 0
	}
	if !c.day.Equal(day) {
		c.day = day
		c.TokensThisDay = 0
	}
}
