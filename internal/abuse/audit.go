package abuse

import (
	"go.uber.org/zap"

	"github.com/docspark/api/internal/metrics"
)

// Security events written by the Auditor.
const (
	EventRateLimited       = "rate_limited"
	EventActiveLimit       = "active_conversion_limit"
	EventChallengeRejected = "challenge_rejected"
	EventDuplicateBlocked  = "duplicate_upload_blocked"
)

// RequestInfo identifies the client behind a security event.
type RequestInfo struct {
	IP        string
	Method    string
	Path      string
	UserAgent string
}

// Auditor writes one structured warning per rejected request.
type Auditor struct {
	logger *zap.Logger
}

func NewAuditor(logger *zap.Logger) *Auditor {
	return &Auditor{logger: logger.Named("security")}
}

func (a *Auditor) Record(event string, req RequestInfo, details ...zap.Field) {
	userAgent := req.UserAgent
	if userAgent == "" {
		userAgent = "unknown"
	}
	fields := append([]zap.Field{
		zap.String("event", event),
		zap.String("ip", req.IP),
		zap.String("method", req.Method),
		zap.String("path", req.Path),
		zap.String("userAgent", userAgent),
	}, details...)
	a.logger.Warn("security event", fields...)
	metrics.AbuseRejections.WithLabelValues(event).Inc()
}
