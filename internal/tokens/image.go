package tokens

import (
	"math"
	"strings"
)

// ImageEstimator returns the token cost of an image of size bytes.
type ImageEstimator func(size int) int

// ImageRule applies Estimate to families whose lowercased name contains
// Match.
type ImageRule struct {
	Match    string
	Estimate ImageEstimator
}

// Anthropic models bill images at a flat rate.
const flatImageTokens = 1600

const (
	tileSize       = 512
	maxImageSide   = 2048
	tileBaseTokens = 85
	tileTokens     = 85
	maxTileTokens  = 1700
)

// DefaultImageRules returns the built-in per-family rules.
func DefaultImageRules() []ImageRule {
	flat := FlatImageEstimator(flatImageTokens)
	return []ImageRule{
		{Match: "claude", Estimate: flat},
		{Match: "anthropic", Estimate: flat},
	}
}

// FlatImageEstimator charges n tokens for any image.
func FlatImageEstimator(n int) ImageEstimator {
	return func(int) int { return n }
}

// TileImageEstimator approximates tile based billing: the image is taken
// as a square of sqrt(size/3) pixels, clamped to 2048, and covered with
// 512px tiles.
func TileImageEstimator(size int) int {
	if size < 0 {
		size = 0
	}
	side := math.Min(math.Sqrt(float64(size)/3), maxImageSide)
	tiles := int(math.Ceil(side / tileSize))
	return min(tileBaseTokens+tiles*tiles*tileTokens, maxTileTokens)
}

func imageEstimatorFor(rules []ImageRule, family string) ImageEstimator {
	f := strings.ToLower(family)
	for _, rule := range rules {
		if rule.Match != "" && strings.Contains(f, strings.ToLower(rule.Match)) {
			return rule.Estimate
		}
	}
	return TileImageEstimator
}
