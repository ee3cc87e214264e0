package backend

import (
	"context"
	"regexp"
	"strings"
	"time"
)

type exactPattern struct{ s string }

func (p exactPattern) Match(path string) bool { return path == p.s }
func (p exactPattern) String() string         { return "exact:" + p.s }

type prefixPattern struct{ s string }

// NewPrefixPattern strips a trailing "*" and trailing "/" once, per §4.7.
func NewPrefixPattern(s string) PathPattern {
	s = strings.TrimSuffix(s, "*")
	s = strings.TrimSuffix(s, "/")
	return prefixPattern{s: s}
}

func (p prefixPattern) Match(path string) bool { return strings.HasPrefix(path, p.s) }
func (p prefixPattern) String() string         { return "prefix:" + p.s }

type suffixPattern struct{ s string }

func NewSuffixPattern(s string) PathPattern {
	return suffixPattern{s: strings.TrimPrefix(s, "*")}
}

func (p suffixPattern) Match(path string) bool { return strings.HasSuffix(path, p.s) }
func (p suffixPattern) String() string         { return "suffix:" + p.s }

type regexPattern struct{ re *regexp.Regexp }

func NewRegexPattern(expr string) (PathPattern, error) {
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, err
	}
	return regexPattern{re: re}, nil
}

func (p regexPattern) Match(path string) bool { return p.re.MatchString(path) }
func (p regexPattern) String() string         { return "regex:" + p.re.String() }

// NewExactPattern builds an Exact PathPattern.
func NewExactPattern(s string) PathPattern { return exactPattern{s: s} }

// CompileRule translates a config-level routing rule row into a RoutingRule
// with a compiled pattern, per the "kind" discriminator.
func CompileRule(kind, pattern, backendTag string, priority uint32) (RoutingRule, error) {
	var pp PathPattern
	var err error
	switch kind {
	case "exact":
		pp = NewExactPattern(pattern)
	case "prefix":
		pp = NewPrefixPattern(pattern)
	case "suffix":
		pp = NewSuffixPattern(pattern)
	case "regex":
		pp, err = NewRegexPattern(pattern)
	default:
		pp = NewExactPattern(pattern)
	}
	if err != nil {
		return RoutingRule{}, err
	}
	return RoutingRule{Pattern: pp, Backend: Kind(backendTag), Priority: priority}, nil
}

// Router holds compiled routing rules, in descending-priority order, and the
// registered Backend for each tag (C7).
type Router struct {
	rules    []RoutingRule
	backends map[Kind]Backend
	def      Kind
	metrics  RouterMetrics
}

// RouterMetrics is the narrow surface the router needs from the metrics
// collector, kept here rather than importing the metrics package directly
// to avoid a dependency cycle.
type RouterMetrics interface {
	ObserveBackendRequest(backend string, outcome string)
	ObserveBackendDuration(backend string, seconds float64)
	ObserveBackendError(backend string, kind string)
}

// NewRouter sorts rules by descending priority (stable) and stores backend
// registrations keyed by tag.
func NewRouter(rules []RoutingRule, backends map[Kind]Backend, def Kind, m RouterMetrics) *Router {
	sorted := make([]RoutingRule, len(rules))
	copy(sorted, rules)
	SortRules(sorted)
	return &Router{rules: sorted, backends: backends, def: def, metrics: m}
}

// Route returns the backend tag matching path: the first rule (in priority
// order) whose pattern matches and whose backend is registered; the default
// backend otherwise.
func (r *Router) Route(path string) Kind {
	for _, rule := range r.rules {
		if _, ok := r.backends[rule.Backend]; !ok {
			continue
		}
		if rule.Pattern.Match(path) {
			return rule.Backend
		}
	}
	return r.def
}

// ExecuteWithMetrics routes path to a backend, executes req against it, and
// records backend_request/backend_duration/backend_error observations
// (§4.7).
func (r *Router) ExecuteWithMetrics(ctx context.Context, path string, req *Request) (*Response, *Error) {
	kind := r.Route(path)
	b, ok := r.backends[kind]
	if !ok {
		return nil, NewError(ErrOther, nil)
	}

	start := time.Now()
	resp, execErr := b.Execute(ctx, req)
	elapsed := time.Since(start).Seconds()

	if r.metrics == nil {
		return resp, execErr
	}
	r.metrics.ObserveBackendDuration(string(kind), elapsed)
	if execErr != nil {
		r.metrics.ObserveBackendRequest(string(kind), "error")
		r.metrics.ObserveBackendError(string(kind), string(execErr.Kind))
	} else {
		r.metrics.ObserveBackendRequest(string(kind), "success")
	}
	return resp, execErr
}
