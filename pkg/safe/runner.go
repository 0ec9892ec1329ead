package safe

import (
	"context"
	"fmt"
	"runtime/debug"

	"go.uber.org/zap"
	"gopherheir.com/pkg/logger"
)

// Go 安全启动协程
func Go(fn func()) {
	GoCtx(context.Background(), func(context.Context) { fn() })
}

// GoCtx 安全启动携带 context 的协程，日志里保留请求链路信息
func GoCtx(ctx context.Context, fn func(ctx context.Context)) {
	if ctx == nil {
		ctx = context.Background()
	}
	go func() {
		defer recoverLog(ctx, "goroutine")
		fn(ctx)
	}()
}

// Run 同步执行，panic 转成 error 返回；给 errgroup 里的任务用
func Run(ctx context.Context, name string, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logPanic(ctx, name, r)
			err = fmt.Errorf("%s: panic: %v", name, r)
		}
	}()
	return fn(ctx)
}

func recoverLog(ctx context.Context, name string) {
	if r := recover(); r != nil {
		logPanic(ctx, name, r)
	}
}

func logPanic(ctx context.Context, name string, r interface{}) {
	stack := string(debug.Stack())
	if logger.Log != nil {
		logger.Error(ctx, "panic recovered",
			zap.String("task", name),
			zap.Any("panic", r),
			zap.String("stack", stack),
		)
		return
	}
	fmt.Printf("panic in %s: %v\nStack: %s\n", name, r, stack)
}
