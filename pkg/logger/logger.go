package logger

import (
	"context"
	"os"
	"path/filepath"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Context 里的 key，gin 的 c.Set 和 context.WithValue 都用这两个字符串
const (
	TraceIdKey   = "trace_id"
	RequestIdKey = "request_id"
)

// 全局 Logger 实例，Init 之前是 Nop，测试里可以直接替换
var Log = zap.NewNop()

type Config struct {
	Service string
	Level   string // debug, info, warn, error
	File    string // 为空则 logs/{service}.log；"-" 表示只写 stdout
}

// Init 初始化日志组件
func Init(serviceName string, level string) {
	InitWithConfig(Config{Service: serviceName, Level: level})
}

// InitWithFile 同时写 stdout 和指定文件
func InitWithFile(serviceName string, level string, logFile string) {
	InitWithConfig(Config{Service: serviceName, Level: level, File: logFile})
}

func InitWithConfig(cfg Config) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(cfg.Level)); err != nil {
		zapLevel = zap.InfoLevel
	}

	// 生产环境统一 JSON
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	encoderConfig.MessageKey = "msg"

	writeSyncers := []zapcore.WriteSyncer{zapcore.AddSync(os.Stdout)}
	if cfg.File != "-" {
		if ws := openLogFile(cfg.Service, cfg.File); ws != nil {
			writeSyncers = append(writeSyncers, ws)
		}
	}

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.NewMultiWriteSyncer(writeSyncers...),
		zapLevel,
	)
	// 封装了一层，Skip 1 行号才指向调用方
	Log = zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)).
		With(zap.String("service", cfg.Service))
}

// 打开失败就只写 stdout，不影响启动
func openLogFile(service, path string) zapcore.WriteSyncer {
	if path == "" {
		path = filepath.Join("logs", service+".log")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil
	}
	return zapcore.AddSync(f)
}

func Info(ctx context.Context, msg string, fields ...zap.Field) {
	Log.Info(msg, withContext(ctx, fields)...)
}

func Error(ctx context.Context, msg string, fields ...zap.Field) {
	Log.Error(msg, withContext(ctx, fields)...)
}

func Warn(ctx context.Context, msg string, fields ...zap.Field) {
	Log.Warn(msg, withContext(ctx, fields)...)
}

func Debug(ctx context.Context, msg string, fields ...zap.Field) {
	Log.Debug(msg, withContext(ctx, fields)...)
}

// Fatal 会调用 os.Exit
func Fatal(ctx context.Context, msg string, fields ...zap.Field) {
	Log.Fatal(msg, withContext(ctx, fields)...)
}

// withContext 追加 trace_id / request_id。
// trace_id 优先取 OpenTelemetry span，没有再看 ctx 里的字符串。
func withContext(ctx context.Context, fields []zap.Field) []zap.Field {
	if ctx == nil {
		return fields
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		fields = append(fields, zap.String(TraceIdKey, sc.TraceID().String()))
	} else if traceID, ok := ctx.Value(TraceIdKey).(string); ok && traceID != "" {
		fields = append(fields, zap.String(TraceIdKey, traceID))
	}
	if rid, ok := ctx.Value(RequestIdKey).(string); ok && rid != "" {
		fields = append(fields, zap.String(RequestIdKey, rid))
	}
	return fields
}

// Sync 在 main 里 defer
func Sync() {
	if Log != nil {
		_ = Log.Sync()
	}
}
