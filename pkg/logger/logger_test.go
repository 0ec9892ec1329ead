package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	buffer := &bytes.Buffer{}
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.MessageKey = "msg"
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.AddSync(buffer), zap.DebugLevel)

	prev := Log
	Log = zap.New(core)
	t.Cleanup(func() { Log = prev })
	return buffer
}

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry), "日志输出必须是合法的 JSON")
	return entry
}

func TestLogger_Info_WithTraceAndRequestID(t *testing.T) {
	buf := captureLog(t)

	ctx := context.WithValue(context.Background(), TraceIdKey, "test-trace-12345")
	ctx = context.WithValue(ctx, RequestIdKey, "rid-1")
	Info(ctx, "custody withdraw", zap.String("account", "0xabc"), zap.String("amount", "0.5"))

	entry := decodeLine(t, buf)
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "custody withdraw", entry["msg"])
	assert.Equal(t, "0xabc", entry["account"])
	assert.Equal(t, "test-trace-12345", entry["trace_id"])
	assert.Equal(t, "rid-1", entry["request_id"])
}

func TestLogger_Error_NoTraceID(t *testing.T) {
	buf := captureLog(t)

	Error(context.Background(), "journal append failed", zap.String("path", "/tmp/x"))

	entry := decodeLine(t, buf)
	_, exists := entry["trace_id"]
	assert.False(t, exists, "没有 TraceID 的 Context 不应该输出 trace_id 字段")
	assert.Equal(t, "error", entry["level"])
}

func TestLogger_SpanContextWins(t *testing.T) {
	buf := captureLog(t)

	tid, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)
	sid, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: tid, SpanID: sid})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)
	ctx = context.WithValue(ctx, TraceIdKey, "ignored")

	Warn(ctx, "slow journal flush")

	entry := decodeLine(t, buf)
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", entry["trace_id"])
}
