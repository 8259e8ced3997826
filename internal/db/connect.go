package db

import (
	"fmt"
	"net"
	"strconv"

	gomysql "github.com/go-sql-driver/mysql"
	"github.com/zulandar/jobchat/internal/config"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DSN builds a MySQL DSN for the configured database.
func DSN(cfg config.DatabaseConfig) string {
	mc := gomysql.NewConfig()
	mc.User = cfg.User
	mc.Passwd = cfg.Password
	mc.Net = "tcp"
	mc.Addr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	mc.DBName = cfg.Name
	mc.ParseTime = true
	return mc.FormatDSN()
}

// Open returns a GORM connection for the configured driver.
func Open(cfg config.DatabaseConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	var target string
	switch cfg.Driver {
	case "mysql":
		dialector = mysql.Open(DSN(cfg))
		target = fmt.Sprintf("%s:%d/%s", cfg.Host, cfg.Port, cfg.Name)
	case "sqlite", "":
		dialector = sqlite.Open(cfg.Path)
		target = cfg.Path
	default:
		return nil, fmt.Errorf("db: unsupported driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("db: connect to %s: %w", target, err)
	}
	return db, nil
}

// OpenMemory opens a private in-memory SQLite database, migrated and ready.
func OpenMemory() (*gorm.DB, error) {
	db, err := Open(config.DatabaseConfig{Driver: "sqlite", Path: ":memory:"})
	if err != nil {
		return nil, err
	}
	// :memory: is per-connection; pin the pool so every query sees the same database.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("db: memory pool: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := AutoMigrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// CreateDatabase creates the configured MySQL database if it doesn't
// already exist. SQLite files are created on open, so it is a no-op there.
func CreateDatabase(cfg config.DatabaseConfig) error {
	if cfg.Driver != "mysql" {
		return nil
	}
	admin := cfg
	admin.Name = ""
	adminDB, err := gorm.Open(mysql.Open(DSN(admin)), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return fmt.Errorf("db: admin connect to %s:%d: %w", cfg.Host, cfg.Port, err)
	}
	if sqlDB, err := adminDB.DB(); err == nil {
		defer sqlDB.Close()
	}

	sql := fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s`", cfg.Name)
	if err := adminDB.Exec(sql).Error; err != nil {
		return fmt.Errorf("db: create database %s: %w", cfg.Name, err)
	}
	return nil
}
