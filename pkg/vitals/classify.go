package vitals

import (
	"net/url"
	"path"
	"strings"
)

// Issue is a coarse resource problem category.
type Issue string

const (
	IssueSlowLoading     Issue = "slow_loading"
	IssuePoorCompression Issue = "poor_compression"
	IssueNotCached       Issue = "not_cached"
)

const (
	slowResourceMs      = 3000
	largeResourceBytes  = 1_000_000
	minCompressionRatio = 0.5
	longTaskThresholdMs = 50
)

var cacheableExtensions = map[string]bool{
	".js": true, ".css": true,
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".webp": true, ".avif": true, ".svg": true,
	".woff": true, ".woff2": true, ".ttf": true,
}

// ClassifyResource tags a resource timing entry. A nil result means the
// resource looks healthy.
func ClassifyResource(e ResourceEntry) []Issue {
	var issues []Issue
	if e.Duration > slowResourceMs {
		issues = append(issues, IssueSlowLoading)
	}
	if e.EncodedBodySize > largeResourceBytes && compressionRatio(e) < minCompressionRatio {
		issues = append(issues, IssuePoorCompression)
	}
	// A zero transfer size means the response came from cache.
	if isCacheable(e.Name) && e.TransferSize > 0 {
		issues = append(issues, IssueNotCached)
	}
	return issues
}

// compressionRatio is the share of bytes saved on the wire. Missing decoded
// sizes count as uncompressed.
func compressionRatio(e ResourceEntry) float64 {
	if e.DecodedBodySize <= 0 {
		return 0
	}
	return 1 - e.EncodedBodySize/e.DecodedBodySize
}

func isCacheable(rawURL string) bool {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		p = u.Path
	}
	return cacheableExtensions[strings.ToLower(path.Ext(p))]
}

// IsLongTask reports whether a task blocked the main thread long enough to be
// reported.
func IsLongTask(e LongTaskEntry) bool {
	return e.Duration > longTaskThresholdMs
}
