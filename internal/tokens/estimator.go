// Package tokens estimates the token cost of a provider request offline.
//
// Text is counted with the tiktoken encoding of the model family when one
// can be loaded, otherwise with a characters per token heuristic. Counts
// are memoised in a bounded LRU cache keyed by (family, text).
package tokens

import (
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"unicode/utf8"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultCacheSize is the number of cached text estimates.
	DefaultCacheSize = 5000

	// CharsPerToken is the ratio used when no encoding is available.
	CharsPerToken = 3.5

	toolCallOverhead   = 4
	toolResultOverhead = 4
	toolsBaseOverhead  = 16
	perToolOverhead    = 8
	systemPromptTokens = 28
)

// Options configures an Estimator.
type Options struct {
	CacheSize      int
	EncodingLoader EncodingLoader
	ImageRules     []ImageRule
	Logger         logrus.FieldLogger
	Registerer     prometheus.Registerer
}

// Estimator is safe for concurrent use.
type Estimator struct {
	cache   *lru.Cache[string, int]
	load    EncodingLoader
	images  []ImageRule
	log     logrus.FieldLogger
	metrics *metrics

	mu sync.Mutex
	// encodings maps a family to its encoding; a nil value records a
	// failed load.
	encodings map[string]Encoding
}

// New creates an Estimator. Zero options use the defaults.
func New(opts Options) (*Estimator, error) {
	size := opts.CacheSize
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[string, int](size)
	if err != nil {
		return nil, fmt.Errorf("create token cache: %w", err)
	}
	e := &Estimator{
		cache:     cache,
		load:      opts.EncodingLoader,
		images:    opts.ImageRules,
		log:       opts.Logger,
		metrics:   newMetrics(opts.Registerer),
		encodings: make(map[string]Encoding),
	}
	if e.load == nil {
		e.load = TiktokenLoader
	}
	if e.images == nil {
		e.images = DefaultImageRules()
	}
	if e.log == nil {
		e.log = logrus.StandardLogger()
	}
	return e, nil
}

// EstimateTextTokens returns the token count of text for family.
func (e *Estimator) EstimateTextTokens(text, family string) int {
	if text == "" {
		return 0
	}
	key := cacheKey(family, text)
	if n, ok := e.cache.Get(key); ok {
		e.metrics.cacheHits.Inc()
		return n
	}
	e.metrics.cacheMisses.Inc()

	n := e.count(text, family)
	e.cache.Add(key, n)
	return n
}

func (e *Estimator) count(text, family string) int {
	enc := e.encoding(family)
	if enc == nil {
		e.metrics.encodingFallbacks.Inc()
		return heuristicTokens(text)
	}
	n, err := enc.Count(text)
	if err != nil {
		e.log.WithError(err).WithField("family", family).Debug("tokenizer failed, using heuristic")
		e.metrics.encodingFallbacks.Inc()
		return heuristicTokens(text)
	}
	return n
}

// encoding returns the cached encoding of family, loading it on first use.
// A failed load is never retried.
func (e *Estimator) encoding(family string) Encoding {
	e.mu.Lock()
	defer e.mu.Unlock()

	if enc, ok := e.encodings[family]; ok {
		return enc
	}
	name := EncodingName(family)
	enc, err := e.load(name)
	if err != nil {
		e.log.WithError(err).WithFields(logrus.Fields{
			"family":   family,
			"encoding": name,
		}).Warn("failed to load encoding, falling back to character heuristic")
		enc = nil
	}
	e.encodings[family] = enc
	return enc
}

func heuristicTokens(text string) int {
	return int(math.Ceil(float64(utf8.RuneCountInString(text)) / CharsPerToken))
}

// EstimateMessageTokens sums the estimates of every part of msg.
func (e *Estimator) EstimateMessageTokens(msg Message, family string) int {
	total := 0
	for _, part := range msg.Parts {
		total += e.estimatePart(part, family)
	}
	return total
}

func (e *Estimator) estimatePart(part Part, family string) int {
	switch p := part.(type) {
	case TextPart:
		return e.EstimateTextTokens(p.Text, family)
	case DataPart:
		if p.IsImage() {
			return imageEstimatorFor(e.images, family)(len(p.Data))
		}
		return e.EstimateTextTokens(string(p.Data), family)
	case ToolCallPart:
		return toolCallOverhead + e.EstimateTextTokens(p.Name+"\n"+toJSON(p.Input, "null"), family)
	case ToolResultPart:
		total := toolResultOverhead
		for _, v := range p.Content {
			if s, ok := v.Value.(string); ok {
				total += e.EstimateTextTokens(s, family)
			}
		}
		return total
	default:
		return 0
	}
}

// CountToolsTokens estimates the tool definitions of a request. The sum is
// scaled by 1.1 and rounded up.
func (e *Estimator) CountToolsTokens(tools []Tool, family string) int {
	if len(tools) == 0 {
		return 0
	}
	total := toolsBaseOverhead
	for _, tool := range tools {
		total += perToolOverhead
		total += e.EstimateTextTokens(tool.Name, family)
		total += e.EstimateTextTokens(tool.Description, family)
		total += e.EstimateTextTokens(toJSON(tool.InputSchema, "{}"), family)
	}
	return (total*11 + 9) / 10
}

// CountSystemPromptTokens estimates a system prompt including its framing.
func (e *Estimator) CountSystemPromptTokens(prompt, family string) int {
	if prompt == "" {
		return 0
	}
	return e.EstimateTextTokens(prompt, family) + systemPromptTokens
}

// EstimateRequest estimates a whole request.
func (e *Estimator) EstimateRequest(req Request, family string) Breakdown {
	b := Breakdown{
		System: e.CountSystemPromptTokens(req.System, family),
		Tools:  e.CountToolsTokens(req.Tools, family),
	}
	for _, msg := range req.Messages {
		b.Messages += e.EstimateMessageTokens(msg, family)
	}
	b.Total = b.System + b.Messages + b.Tools
	return b
}

// Len returns the number of cached estimates.
func (e *Estimator) Len() int {
	return e.cache.Len()
}

// toJSON serialises v, using empty when v is nil.
func toJSON(v any, empty string) string {
	if v == nil {
		return empty
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}
