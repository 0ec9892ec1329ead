package model

import "time"

// AccountRow 每个账户最新状态，金额用 wei 十进制字符串存 DECIMAL(78,0)
type AccountRow struct {
	Address      string    `gorm:"column:address;primaryKey;type:char(42);not null"`
	Owner        string    `gorm:"column:owner;type:char(42);not null;index"`
	Heir         string    `gorm:"column:heir;type:char(42);not null;index"`
	LastActivity time.Time `gorm:"column:last_activity;type:datetime(6);not null"`
	Balance      string    `gorm:"column:balance;type:decimal(78,0);not null"`
	LastSeq      uint64    `gorm:"column:last_seq;not null"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (AccountRow) TableName() string {
	return "custody_accounts"
}
