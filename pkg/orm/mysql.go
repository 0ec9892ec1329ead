package orm

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"gopherheir.com/pkg/metrics"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Config struct {
	Driver                 string `mapstructure:"driver"`
	DSN                    string `mapstructure:"dsn"`                       // 连接字符串
	MaxIdleConns           int    `mapstructure:"max_idle_conns"`            // 最大空闲连接
	MaxOpenConns           int    `mapstructure:"max_open_conns"`            // 最大打开连接
	ConnMaxLifetimeMinutes int    `mapstructure:"conn_max_lifetime_minutes"` // 连接存活分钟数
	LogSQL                 bool   `mapstructure:"log_sql"`                   // 开发环境打印 SQL
}

// NewSQLDB 打开连接池并 ping，一次失败就关闭返回
func NewSQLDB(ctx context.Context, c *Config) (*sql.DB, error) {
	driver := c.Driver
	if driver == "" {
		driver = "mysql"
	}
	db, err := sql.Open(driver, c.DSN)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(c.MaxOpenConns)
	db.SetMaxIdleConns(c.MaxIdleConns)
	db.SetConnMaxLifetime(time.Duration(c.ConnMaxLifetimeMinutes) * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// NewGorm 复用外部的 *sql.DB，连接池参数以 NewSQLDB 为准
func NewGorm(sqlDB *sql.DB, logSQL bool) (*gorm.DB, error) {
	level := logger.Warn
	if logSQL {
		level = logger.Info
	}
	return gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{
		SkipDefaultTransaction: true,
		NowFunc:                func() time.Time { return time.Now().UTC() },
		Logger:                 logger.Default.LogMode(level),
	})
}

// ObserveDBStats 每 5 秒把连接池状态写进 prometheus，ctx 取消即退出
func ObserveDBStats(ctx context.Context, db *sql.DB) {
	go func() {
		t := time.NewTicker(5 * time.Second)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
			}
			st := db.Stats()
			metrics.DbPoolOpen.Set(float64(st.OpenConnections))
			metrics.DbPoolIdle.Set(float64(st.Idle))
			metrics.DbPoolInuse.Set(float64(st.InUse))
			metrics.DbPoolWaitCount.Set(float64(st.WaitCount))
			metrics.DbPoolWaitDuration.Set(st.WaitDuration.Seconds())
		}
	}()
}
