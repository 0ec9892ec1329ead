package repo

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"gopherheir.com/internal/custody"
	"gopherheir.com/internal/custody/repo/model"
)

// Projection journal 事件在 MySQL 里的读模型
type Projection interface {
	// Project 幂等：同一个 Seq 重复投递只生效一次
	Project(ctx context.Context, ev custody.Event) error
	ListEvents(ctx context.Context, addr common.Address, page, limit int) ([]model.EventRow, int64, error)
}
