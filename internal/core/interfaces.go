package core

import (
	"context"
	"time"
)

// Logger interface
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
	Fatal(format string, args ...any)
}

// Invoker sends one message history to one model. Implementations must be
// total: every failure is reported through the returned InvocationResult.
type Invoker interface {
	Invoke(ctx context.Context, spec ModelSpec, history []Message, timeout time.Duration) InvocationResult
}

// Cache interface
type Cache interface {
	Get(key string) (any, bool)
	Set(key string, value any, duration time.Duration)
	Delete(key string)
	Stop()
}

// StatsStorage persists metrics snapshots.
type StatsStorage interface {
	SaveStats(stats *RequestStats) error
	LoadStats() (*RequestStats, error)
	Close() error
}

// ConversationStore persists conversations.
type ConversationStore interface {
	CreateConversation(ctx context.Context, conv *Conversation) error
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	ListConversations(ctx context.Context) ([]ConversationMetadata, error)
	SaveConversation(ctx context.Context, conv *Conversation) error
	DeleteConversation(ctx context.Context, id string) error
	Close() error
}

// MetricsCollector interface
type MetricsCollector interface {
	RecordInvocation(model, stage string, success bool, duration time.Duration)
	RecordRound(success bool, duration time.Duration)
	RecordCacheHit()
	RecordCacheMiss()
	GetQPS() float64
}

// NopLogger empty logger implementation
type NopLogger struct{}

func (*NopLogger) Debug(format string, args ...any) {}
func (*NopLogger) Info(format string, args ...any)  {}
func (*NopLogger) Warn(format string, args ...any)  {}
func (*NopLogger) Error(format string, args ...any) {}
func (*NopLogger) Fatal(format string, args ...any) {}

// NopMetrics empty metrics collector implementation
type NopMetrics struct{}

func (*NopMetrics) RecordInvocation(model, stage string, success bool, duration time.Duration) {}
func (*NopMetrics) RecordRound(success bool, duration time.Duration)                           {}
func (*NopMetrics) RecordCacheHit()                                                            {}
func (*NopMetrics) RecordCacheMiss()                                                           {}
func (*NopMetrics) GetQPS() float64                                                            { return 0 }
