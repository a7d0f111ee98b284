package db

import (
	"fmt"
	"os"
	"path/filepath"

	gomysql "github.com/go-sql-driver/mysql"
	"github.com/zulandar/waybill/internal/config"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Connect opens a GORM connection for the configured store backend.
//
// The default backend is a single SQLite file, matching the one-process
// deployment model. The mysql backend exists for deployments that run more
// than one bot process against the same store: SQLite's file lock is not a
// substitute for multi-writer transaction isolation, so sharing a store
// across processes requires a client-server engine.
func Connect(cfg config.StoreConfig) (*gorm.DB, error) {
	switch cfg.Driver {
	case "", "sqlite":
		return connectSQLite(cfg.Path)
	case "mysql":
		return connectMySQL(cfg)
	}
	return nil, fmt.Errorf("db: unknown store driver %q", cfg.Driver)
}

func connectSQLite(path string) (*gorm.DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("db: create data dir %s: %w", dir, err)
		}
	}
	// busy_timeout keeps a second CLI invocation from failing immediately
	// while the daemon holds a write lock.
	dsn := path + "?_busy_timeout=5000"
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("db: open sqlite %s: %w", path, err)
	}
	return gdb, nil
}

func connectMySQL(cfg config.StoreConfig) (*gorm.DB, error) {
	mc := gomysql.NewConfig()
	mc.User = cfg.User
	mc.Passwd = cfg.Password
	mc.Net = "tcp"
	mc.Addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	mc.DBName = cfg.Database
	mc.ParseTime = true

	gdb, err := gorm.Open(mysql.Open(mc.FormatDSN()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("db: connect to %s/%s: %w", mc.Addr, cfg.Database, err)
	}
	return gdb, nil
}
