package mysql

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopherheir.com/internal/custody"
	"gopherheir.com/internal/custody/repo"
	"gopherheir.com/internal/custody/repo/model"
	"gopherheir.com/pkg/metrics"
	"gopherheir.com/pkg/orm"
	"gopherheir.com/pkg/xerr"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type txKey struct{}

type Repo struct {
	db *gorm.DB
}

var _ repo.Projection = (*Repo)(nil)

func New(db *gorm.DB) *Repo { return &Repo{db: db} }

// Migrate 建表，开发环境启动时调用
func (r *Repo) Migrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&model.AccountRow{}, &model.EventRow{})
}

func (r *Repo) Transaction(ctx context.Context, fn func(txCtx context.Context) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txCtx := context.WithValue(ctx, txKey{}, tx)
		return fn(txCtx)
	})
}

func (r *Repo) getDb(ctx context.Context) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok && tx != nil {
		return tx
	}
	return r.db.WithContext(ctx)
}

// Project 事件行和账户行在一个事务里写；事件已存在说明是重投，整条跳过
func (r *Repo) Project(ctx context.Context, ev custody.Event) (err error) {
	defer observe("project", time.Now(), &err)
	return r.Transaction(ctx, func(txCtx context.Context) error {
		row := model.EventRowFrom(ev)
		res := r.getDb(txCtx).
			Clauses(clause.OnConflict{DoNothing: true}).
			Create(&row)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		acct := model.AccountRowFrom(ev)
		return r.getDb(txCtx).
			Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "address"}},
				DoUpdates: clause.AssignmentColumns([]string{"owner", "heir", "last_activity", "balance", "last_seq", "updated_at"}),
			}).
			Create(&acct).Error
	})
}

// ListEvents 按 seq 倒序，最新的在前
func (r *Repo) ListEvents(ctx context.Context, addr common.Address, page, limit int) (_ []model.EventRow, _ int64, err error) {
	defer observe("list_events", time.Now(), &err)
	byAccount := func() *gorm.DB {
		return r.getDb(ctx).Model(&model.EventRow{}).Where("account = ?", addr.Hex())
	}

	var total int64
	if err = byAccount().Count(&total).Error; err != nil {
		return nil, 0, xerr.Wrap(err, xerr.DbError, xerr.MapErrMsg(xerr.DbError))
	}
	rows := make([]model.EventRow, 0)
	if total == 0 {
		return rows, 0, nil
	}
	if err = orm.ApplyPagination(byAccount().Order("seq DESC"), page, limit).Find(&rows).Error; err != nil {
		return nil, 0, xerr.Wrap(err, xerr.DbError, xerr.MapErrMsg(xerr.DbError))
	}
	return rows, total, nil
}

func observe(query string, start time.Time, errp *error) {
	status := "ok"
	if *errp != nil {
		status = "error"
	}
	metrics.DbQueryDuration.WithLabelValues(query, status).Observe(time.Since(start).Seconds())
}
