// Package audit provides security audit logging for SIEM consumption.
// Events are written under the "security_audit" logger name with a JSON copy of the
// event so collectors can parse them without knowing the zap field layout.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-query-gateway/pkg/auth"
	"github.com/ekaya-inc/ekaya-query-gateway/pkg/middleware"
)

// SecurityEventType categorizes security-relevant events for filtering and alerting.
type SecurityEventType string

const (
	// EventSQLInjectionAttempt is logged when libinjection flags a literal about to be inlined.
	EventSQLInjectionAttempt SecurityEventType = "sql_injection_attempt"
	// EventParameterValidation is logged when request fields are rejected.
	EventParameterValidation SecurityEventType = "parameter_validation_failure"
	// EventQueryExecution is logged for every executed query when execution auditing is on.
	EventQueryExecution SecurityEventType = "query_execution"
)

// SecurityEvent is one auditable event.
type SecurityEvent struct {
	Timestamp time.Time         `json:"timestamp"`
	EventType SecurityEventType `json:"event_type"`
	QueryKey  string            `json:"query_key"`
	RequestID string            `json:"request_id,omitempty"`
	UserID    string            `json:"user_id,omitempty"`
	ClientIP  string            `json:"client_ip,omitempty"`
	Details   any               `json:"details"`
	Severity  string            `json:"severity"` // info, warning, critical
}

// SQLInjectionDetails describes a flagged literal. The value itself is never recorded,
// only its length.
type SQLInjectionDetails struct {
	ParamName   string `json:"param_name"`
	ValueLength int    `json:"value_length"`
	Fingerprint string `json:"fingerprint"`
	Rejected    bool   `json:"rejected"`
}

// SecurityAuditor logs security events.
type SecurityAuditor struct {
	logger *zap.Logger
}

// NewSecurityAuditor creates an auditor logging under the "security_audit" name.
func NewSecurityAuditor(logger *zap.Logger) *SecurityAuditor {
	return &SecurityAuditor{logger: logger.Named("security_audit")}
}

// LogInjectionAttempt records a flagged literal. Rejected attempts are logged at ERROR with
// critical severity; attempts that were let through at WARN.
func (a *SecurityAuditor) LogInjectionAttempt(ctx context.Context, queryKey string, details SQLInjectionDetails) {
	severity, level := "warning", zap.WarnLevel
	if details.Rejected {
		severity, level = "critical", zap.ErrorLevel
	}

	event := a.event(ctx, EventSQLInjectionAttempt, queryKey, details, severity)
	a.logger.Log(level, "SQL injection attempt detected", append(a.fields(event),
		zap.String("param_name", details.ParamName),
		zap.String("fingerprint", details.Fingerprint),
		zap.Bool("rejected", details.Rejected),
	)...)
}

// LogParameterValidation records request fields that failed validation. These are usually
// client mistakes, so they are logged at WARN.
func (a *SecurityAuditor) LogParameterValidation(ctx context.Context, queryKey, errorMessage string) {
	event := a.event(ctx, EventParameterValidation, queryKey, map[string]string{"error": errorMessage}, "warning")
	a.logger.Warn("Parameter validation failed", append(a.fields(event),
		zap.String("error", errorMessage),
	)...)
}

// LogQueryExecution records a successful execution. High volume; callers opt in.
func (a *SecurityAuditor) LogQueryExecution(ctx context.Context, queryKey, route string, cached bool) {
	details := map[string]any{"route": route, "cached": cached}
	event := a.event(ctx, EventQueryExecution, queryKey, details, "info")
	a.logger.Info("Query executed", append(a.fields(event),
		zap.String("route", route),
		zap.Bool("cached", cached),
	)...)
}

func (a *SecurityAuditor) event(ctx context.Context, typ SecurityEventType, queryKey string, details any, severity string) SecurityEvent {
	return SecurityEvent{
		Timestamp: time.Now().UTC(),
		EventType: typ,
		QueryKey:  queryKey,
		RequestID: middleware.RequestID(ctx),
		UserID:    auth.GetUserIDFromContext(ctx),
		ClientIP:  middleware.RemoteAddr(ctx),
		Details:   details,
		Severity:  severity,
	}
}

func (a *SecurityAuditor) fields(event SecurityEvent) []zap.Field {
	// Known types only; marshaling cannot fail.
	eventJSON, _ := json.Marshal(event)
	return []zap.Field{
		zap.String("event_json", string(eventJSON)),
		zap.String("query_key", event.QueryKey),
		zap.String("request_id", event.RequestID),
		zap.String("user_id", event.UserID),
		zap.String("client_ip", event.ClientIP),
		zap.String("severity", event.Severity),
	}
}
