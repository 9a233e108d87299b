// File: internal/faults/classify.go
package faults

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/parityscan/parity-cli/api/schemas"
)

// rule is one entry of the ordered classification table. Rules are evaluated
// first-match: more specific and more severe rules come first.
type rule struct {
	match     func(err error, kind Kind, hasKind bool, ctx Context) bool
	category  Category
	severity  Severity
	retryable bool
	action    string
}

// The ordered rule table. Order matters: a renderer crash message also
// mentions "connection", so the crash rule must precede the network rule.
var rules = []rule{
	{
		// 1. Renderer crash or automation-engine disconnect.
		match: func(err error, kind Kind, hasKind bool, _ Context) bool {
			if hasKind && (kind == KindCrash || kind == KindLaunch) {
				return true
			}
			return matchesAny(err,
				"browser crashed", "renderer crashed", "target crashed",
				"session closed", "browser has been closed", "websocket url timeout",
				"chrome failed to start", "disconnected")
		},
		category:  CategoryCritical,
		severity:  SeverityCritical,
		retryable: true,
		action:    "restart session",
	},
	{
		// 2. Report generation failures and oversized payloads. Blind
		// retries cannot shrink a payload, so these are terminal.
		match: func(err error, kind Kind, hasKind bool, ctx Context) bool {
			if hasKind && kind == KindOversized {
				return true
			}
			return ctx.Stage == schemas.StageReport ||
				matchesAny(err, "payload too large", "response too large", "exceeds maximum size")
		},
		category:  CategoryReport,
		severity:  SeverityHigh,
		retryable: false,
		action:    "reduce chunk size",
	},
	{
		// 3. Missing selector or extraction target.
		match: func(err error, kind Kind, hasKind bool, _ Context) bool {
			if hasKind && kind == KindSelector {
				return true
			}
			return matchesAny(err, "no such element", "selector not found",
				"waiting for selector", "node not found", "could not find node")
		},
		category:  CategoryExtraction,
		severity:  SeverityMedium,
		retryable: true,
		action:    "retry with fallback strategy",
	},
	{
		// 4. Authentication failures.
		match: func(err error, kind Kind, hasKind bool, ctx Context) bool {
			if hasKind && kind == KindAuth {
				return true
			}
			return ctx.Operation == "authenticate" ||
				matchesAny(err, "unauthorized", "forbidden", "invalid token",
					"login failed", "authentication")
		},
		category:  CategoryAuth,
		severity:  SeverityHigh,
		retryable: true,
		action:    "verify credentials",
	},
	{
		// 5. Known third-party noise: log and keep going.
		match: func(err error, kind Kind, hasKind bool, _ Context) bool {
			if hasKind && kind == KindThirdPartyNoise {
				return true
			}
			return matchesAny(err, "sourcemap", "favicon.ico",
				"third-party cookie", "deprecationwarning", "module not found: analytics")
		},
		category:  CategoryWarning,
		severity:  SeverityLow,
		retryable: false,
		action:    "ignore, continue",
	},
	{
		// 6. Network, timeout, connection failures.
		match: func(err error, kind Kind, hasKind bool, _ Context) bool {
			if hasKind && (kind == KindNetwork || kind == KindTimeout) {
				return true
			}
			if errors.Is(err, context.DeadlineExceeded) {
				return true
			}
			return matchesAny(err, "timeout", "timed out", "connection refused",
				"connection reset", "no such host", "network", "eof", "tls handshake")
		},
		category:  CategoryNetwork,
		severity:  SeverityMedium,
		retryable: true,
		action:    "check connectivity",
	},
}

// Classify maps a raw failure plus context to a ClassifiedError verdict.
// It is a pure function: the same (message, kind, context) always yields
// the same verdict. Already-classified errors pass through with the new
// context chained on.
func Classify(err error, ctx Context) *ClassifiedError {
	if prior := AsClassified(err); prior != nil && prior.Ctx.Stage == ctx.Stage {
		return prior
	}

	kind, hasKind := KindOf(err)

	for _, r := range rules {
		if r.match(err, kind, hasKind, ctx) {
			return &ClassifiedError{
				Category:        r.category,
				Severity:        r.severity,
				Retryable:       r.retryable,
				SuggestedAction: r.action,
				Ctx:             ctx,
				Timestamp:       time.Now(),
				original:        err,
			}
		}
	}

	// Bad-request tags never reach the table above; they are terminal but
	// not worth a dedicated rule slot since they only originate locally.
	if hasKind && kind == KindBadRequest {
		return &ClassifiedError{
			Category:        CategoryUnknown,
			Severity:        SeverityMedium,
			Retryable:       false,
			SuggestedAction: "fix the request and resubmit",
			Ctx:             ctx,
			Timestamp:       time.Now(),
			original:        err,
		}
	}

	return &ClassifiedError{
		Category:        CategoryUnknown,
		Severity:        SeverityMedium,
		Retryable:       true,
		SuggestedAction: "retry; report if persistent",
		Ctx:             ctx,
		Timestamp:       time.Now(),
		original:        err,
	}
}

func matchesAny(err error, needles ...string) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, n := range needles {
		if strings.Contains(msg, n) {
			return true
		}
	}
	return false
}
