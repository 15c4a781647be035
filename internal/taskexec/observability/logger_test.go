package observability

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/majorhost/taskexec/common/trace"
)

func TestWithTraceBindsTraceID(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewTextHandler(&buf, nil))
	ctx := trace.WithID(context.Background(), "te_cafe01")

	WithTrace(ctx, base).Info("task started")

	if !strings.Contains(buf.String(), "trace_id=te_cafe01") {
		t.Errorf("log line missing trace id: %q", buf.String())
	}
}

func TestWithTracePlainContext(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewTextHandler(&buf, nil))

	WithTrace(context.Background(), base).Info("startup")

	if strings.Contains(buf.String(), "trace_id") {
		t.Errorf("unexpected trace id on untraced context: %q", buf.String())
	}
}
