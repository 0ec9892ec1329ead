package service

import (
	"context"

	"gopherheir.com/internal/custody"
	"gopherheir.com/pkg/xerr"
)

// ErrNotWriter 本实例没有持有写租约，写操作一律拒绝
var ErrNotWriter = xerr.New(xerr.ServiceBusy, "this instance is not the custody writer")

// Fence 写租约的本地视角
type Fence interface {
	Held() bool
}

// FenceCommitter 每次写 journal 之前确认本实例仍是唯一写者。
// Committer 在账户锁内、状态变更之前调用，拒绝时状态保持不变
func FenceCommitter(next custody.Committer, f Fence) custody.Committer {
	if f == nil {
		return next
	}
	return func(ctx context.Context, ev *custody.Event) error {
		if !f.Held() {
			return ErrNotWriter
		}
		if next == nil {
			return nil
		}
		return next(ctx, ev)
	}
}
