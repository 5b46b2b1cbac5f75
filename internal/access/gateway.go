package access

import (
	"regexp"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/MobileShell/gateway/internal/infrastructure/logging"
	"github.com/GriffinCanCode/MobileShell/gateway/internal/infrastructure/monitoring"
)

// Verdict is the result of classifying a candidate URL.
type Verdict int

const (
	// Blocked denies navigation or sub-resource loading.
	Blocked Verdict = iota
	// Allowed permits the fetch.
	Allowed
)

// String returns the verdict name for logs and metrics.
func (v Verdict) String() string {
	if v == Allowed {
		return "allowed"
	}
	return "blocked"
}

// Config holds the gateway's allow-list settings.
type Config struct {
	Enabled     bool
	AllowedURLs []string
}

// ruleset is the immutable compiled form of a Config. Reload swaps the
// whole value; readers never observe a partial update.
type ruleset struct {
	enabled  bool
	contains []string
	prefixes []string
	suffixes []string
}

// Gateway classifies candidate URLs against the configured allow-list.
// Classify is lock-free and safe from any goroutine, including the
// webview's resource-loading callbacks.
type Gateway struct {
	rules      atomic.Pointer[ruleset]
	internalRe *regexp.Regexp
	logger     *logging.Logger
	metrics    *monitoring.Metrics
}

// internalURLPattern matches URLs that target the in-process delivery
// server. Those are gateway-issued, never attacker-influenced, and are
// exempt from the allow-list. Compiled once at construction.
const internalURLPattern = `(?i)^https?://(localhost|127\.0\.0\.1)(:\d+)?/framework-[0-9a-f]+`

// New creates a gateway from the given configuration.
func New(cfg Config, logger *logging.Logger) *Gateway {
	g := &Gateway{
		internalRe: regexp.MustCompile(internalURLPattern),
		logger:     logger,
	}
	g.Reload(cfg)
	return g
}

// WithMetrics attaches a metrics collector.
func (g *Gateway) WithMetrics(m *monitoring.Metrics) *Gateway {
	g.metrics = m
	return g
}

// Reload atomically replaces the active ruleset.
func (g *Gateway) Reload(cfg Config) {
	rs := compile(cfg, g.logger)
	g.rules.Store(rs)

	if cfg.Enabled && len(rs.contains)+len(rs.prefixes)+len(rs.suffixes) == 0 {
		g.logger.Warn("Access control enabled with no usable patterns; all external URLs will be blocked")
	}
}

// Classify returns the verdict for a raw candidate URL. It never fails:
// anything that cannot be understood is Blocked while the gateway is
// enabled.
func (g *Gateway) Classify(rawURL string) Verdict {
	v := g.classify(rawURL)
	if g.metrics != nil {
		g.metrics.RecordVerdict(v.String())
	}
	return v
}

func (g *Gateway) classify(rawURL string) Verdict {
	rs := g.rules.Load()
	if !rs.enabled {
		return Allowed
	}
	if g.internalRe.MatchString(rawURL) {
		return Allowed
	}
	if refuseAmbiguousHost(rawURL) {
		g.logger.Debug("Blocked URL with ambiguous host form", zap.String("url", rawURL))
		return Blocked
	}

	candidate := canonicalize(rawURL)
	for _, text := range rs.contains {
		if strings.Contains(candidate, text) {
			return Allowed
		}
	}
	for _, text := range rs.prefixes {
		if strings.HasPrefix(candidate, text) {
			return Allowed
		}
	}
	for _, text := range rs.suffixes {
		if strings.HasSuffix(candidate, text) {
			return Allowed
		}
	}
	return Blocked
}

// IsExternal reports whether the host must hand the URL to the system
// browser instead of loading it in the embedded page.
func (g *Gateway) IsExternal(rawURL string) bool {
	rs := g.rules.Load()
	return rs.enabled && g.Classify(rawURL) == Blocked
}

// compile buckets the configured patterns into the three match lists.
func compile(cfg Config, logger *logging.Logger) *ruleset {
	rs := &ruleset{enabled: cfg.Enabled}
	for _, raw := range cfg.AllowedURLs {
		p, ok := classifyPattern(raw)
		if !ok {
			logger.Warn("Discarding unusable allow-list pattern", zap.String("pattern", raw))
			continue
		}
		switch p.kind {
		case matchContains:
			rs.contains = append(rs.contains, p.text)
		case matchPrefix:
			rs.prefixes = append(rs.prefixes, p.text)
		case matchSuffix:
			rs.suffixes = append(rs.suffixes, p.text)
		}
	}
	return rs
}
