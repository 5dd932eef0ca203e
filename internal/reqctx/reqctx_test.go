package reqctx

import (
	"context"
	"testing"

	"go.uber.org/zap"
)

func TestCorrelationID(t *testing.T) {
	ctx := context.Background()
	if got := CorrelationID(ctx); got != "" {
		t.Errorf("CorrelationID(empty ctx) = %q, want empty", got)
	}
	ctx = WithCorrelationID(ctx, "abc-123")
	if got := CorrelationID(ctx); got != "abc-123" {
		t.Errorf("CorrelationID() = %q, want %q", got, "abc-123")
	}
}

func TestLogger_Fallback(t *testing.T) {
	fallback := zap.NewNop()
	if got := Logger(context.Background(), fallback); got != fallback {
		t.Error("Logger() without request logger should return fallback")
	}
	scoped := zap.NewExample()
	ctx := WithLogger(context.Background(), scoped)
	if got := Logger(ctx, fallback); got != scoped {
		t.Error("Logger() should return the request-scoped logger")
	}
}
