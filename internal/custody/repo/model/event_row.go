package model

import "time"

type EventRow struct {
	Seq          uint64    `gorm:"column:seq;primaryKey;autoIncrement:false;index:idx_account_seq,priority:2"`
	Account      string    `gorm:"column:account;type:char(42);not null;index:idx_account_seq,priority:1"`
	Type         string    `gorm:"column:type;type:varchar(32);not null"`
	Actor        string    `gorm:"column:actor;type:char(42);not null"`
	Amount       string    `gorm:"column:amount;type:decimal(78,0);not null"`
	PrevOwner    string    `gorm:"column:prev_owner;type:char(42);not null"`
	Owner        string    `gorm:"column:owner;type:char(42);not null"`
	Heir         string    `gorm:"column:heir;type:char(42);not null"`
	Balance      string    `gorm:"column:balance;type:decimal(78,0);not null"`
	LastActivity time.Time `gorm:"column:last_activity;type:datetime(6);not null"`
	At           time.Time `gorm:"column:at;type:datetime(6);not null"`
	RequestID    string    `gorm:"column:request_id;type:varchar(64);not null"`
}

func (EventRow) TableName() string {
	return "custody_events"
}
