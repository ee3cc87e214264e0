// Package waf implements the rule-based web application firewall engine
// (§4.10): regex rules via stdlib regexp, plus optional expr-lang/expr
// boolean conditions for richer Challenge rules, adapted from the
// teacher's common/expreval wrapper.
package waf

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/fenwicklabs/phpedge/src/common/expreval"
)

// Mode is one of {off, learn, detect, block} (§4.10).
type Mode string

const (
	ModeOff    Mode = "off"
	ModeLearn  Mode = "learn"
	ModeDetect Mode = "detect"
	ModeBlock  Mode = "block"
)

// Target identifies which request field a rule inspects (§3 "WafRule").
type Target string

const (
	TargetURI         Target = "uri"
	TargetQueryString Target = "query_string"
	TargetHeaders     Target = "headers"
	TargetBody        Target = "body"
	TargetUserAgent   Target = "user_agent"
	TargetMethod      Target = "method"
)

// Action is one of {Block, Log, Challenge} (§3 "WafRule").
type Action string

const (
	ActionBlock     Action = "block"
	ActionLog       Action = "log"
	ActionChallenge Action = "challenge"
)

// Rule is a compiled WAF rule. Exactly one of Pattern/Expr is set: regex
// rules use stdlib regexp (RE2 already supports the inline (?i) flag the
// example SQL rule needs); Expr rules use expr-lang/expr for conditions
// regex can't express cleanly, via the shared expreval wrapper.
type Rule struct {
	ID          string
	Description string
	Target      Target
	Action      Action
	Severity    int

	pattern *regexp.Regexp
	expr    *expreval.ExprEvaluator
}

// NewRegexRule compiles a regex-backed rule.
func NewRegexRule(id, description string, target Target, pattern string, action Action, severity int) (*Rule, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compiling waf rule %s: %w", id, err)
	}
	return &Rule{ID: id, Description: description, Target: target, Action: action, Severity: severity, pattern: re}, nil
}

// NewExprRule compiles an expr-lang/expr condition rule, evaluated against a
// map of the request's fields rather than a single target string.
func NewExprRule(id, description string, expression string, action Action, severity int) (*Rule, error) {
	ev, err := expreval.NewExprEvaluator(expression)
	if err != nil {
		return nil, fmt.Errorf("compiling waf expr rule %s: %w", id, err)
	}
	return &Rule{ID: id, Description: description, Action: action, Severity: severity, expr: ev}, nil
}

// RequestFields is the subset of backend.Request the WAF evaluates against
// (§4.10), kept here to avoid a waf<->backend import cycle.
type RequestFields struct {
	Method      string
	URI         string
	QueryString string
	Headers     map[string]string
	Body        []byte
	UserAgent   string
}

func (r *Rule) extract(f RequestFields) string {
	switch r.Target {
	case TargetURI:
		return f.URI
	case TargetQueryString:
		return f.QueryString
	case TargetMethod:
		return f.Method
	case TargetUserAgent:
		return f.UserAgent
	case TargetHeaders:
		var joined []string
		for k, v := range f.Headers {
			joined = append(joined, k+": "+v)
		}
		return strings.Join(joined, "\n")
	case TargetBody:
		return string(f.Body)
	default:
		return ""
	}
}

// matches reports whether the rule triggers against f.
func (r *Rule) matches(f RequestFields) (bool, error) {
	if r.expr != nil {
		return r.expr.Eval(map[string]any{
			"method":  f.Method,
			"uri":     f.URI,
			"query":   f.QueryString,
			"headers": f.Headers,
			"body":    string(f.Body),
			"agent":   f.UserAgent,
		})
	}
	return r.pattern.MatchString(r.extract(f)), nil
}

// Verdict is the result of evaluating the rule list against one request.
type Verdict struct {
	Allowed   bool
	Matched   *Rule
	WouldBlock bool // true in learn/detect mode when a rule matched
}

// Metrics is the narrow surface the WAF needs from the metrics collector.
type Metrics interface {
	ObserveWAFBlocked(ruleID string)
}

// Engine evaluates the configured rule list in order; first match wins
// (§4.10, §8 "WAF mode").
type Engine struct {
	mode    Mode
	rules   []*Rule
	metrics Metrics
}

// NewEngine builds an Engine from already-compiled rules, in configured
// (stable) order.
func NewEngine(mode Mode, rules []*Rule, metrics Metrics) *Engine {
	return &Engine{mode: mode, rules: rules, metrics: metrics}
}

// Evaluate returns Allowed=true immediately if mode is off. Otherwise it
// walks rules in order; the first match determines the outcome per mode.
func (e *Engine) Evaluate(f RequestFields) (Verdict, error) {
	if e.mode == ModeOff {
		return Verdict{Allowed: true}, nil
	}

	for _, rule := range e.rules {
		matched, err := rule.matches(f)
		if err != nil {
			return Verdict{}, fmt.Errorf("evaluating waf rule %s: %w", rule.ID, err)
		}
		if !matched {
			continue
		}

		if e.metrics != nil {
			e.metrics.ObserveWAFBlocked(rule.ID)
		}

		if e.mode == ModeBlock {
			return Verdict{Allowed: false, Matched: rule}, nil
		}
		// learn/detect: record as "would-block" but still allow.
		return Verdict{Allowed: true, Matched: rule, WouldBlock: true}, nil
	}

	return Verdict{Allowed: true}, nil
}
