package vauth

import (
	"strconv"

	"github.com/vizor-analytics/vauth/apikey"
	internalaudit "github.com/vizor-analytics/vauth/internal/audit"
	"github.com/vizor-analytics/vauth/internal/rate"
	"github.com/vizor-analytics/vauth/jwt"
	"github.com/vizor-analytics/vauth/token"
)

// Engine defines a public type used by vauth APIs.
//
// Engine instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Engine struct {
	config      Config
	tokenStore  *token.Store
	keyStore    *apikey.Store
	rateLimiter *rate.Limiter
	cleaner     *token.Cleaner
	audit       *internalaudit.Dispatcher
	metrics     *Metrics
	jwtManager  *jwt.Manager
	identity    IdentityProvider
}

// Close describes the close operation and its observable behavior.
//
// Close may return an error when input validation, dependency calls, or security checks fail.
// Close does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.cleaner != nil {
		e.cleaner.Close()
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped describes the auditdropped operation and its observable behavior.
//
// AuditDropped may return an error when input validation, dependency calls, or security checks fail.
// AuditDropped does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot describes the metricssnapshot operation and its observable behavior.
//
// MetricsSnapshot may return an error when input validation, dependency calls, or security checks fail.
// MetricsSnapshot does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) metricAdd(id MetricID, delta uint64) {
	if e == nil || e.metrics == nil || delta == 0 {
		return
	}
	e.metrics.Add(id, delta)
}

func formatInt64(v int64) string {
	return strconv.FormatInt(v, 10)
}
