package db

import (
	"fmt"
	"strings"

	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/newsletter/internal/config"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	sqlite3 "gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const (
	TypePostgres = "postgres"
	TypeMySQL    = "mysql"
	// TypeSQLite is the pure Go driver, TypeSQLite3 the cgo one.
	TypeSQLite  = "sqlite"
	TypeSQLite3 = "sqlite3"
)

func IsSQLite(dbType string) bool {
	switch strings.ToLower(strings.TrimSpace(dbType)) {
	case TypeSQLite, TypeSQLite3:
		return true
	default:
		return false
	}
}

func Dialect(cfg config.Config) (gorm.Dialector, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.DBType)) {
	case TypeMySQL:
		return mysql.Open(fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC&multiStatements=true",
			cfg.DBUser,
			cfg.DBPassword,
			cfg.DBHost,
			cfg.DBPort,
			cfg.DBName,
		)), nil
	case TypePostgres:
		dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
			cfg.DBHost,
			cfg.DBUser,
			cfg.DBPassword,
			cfg.DBName,
			cfg.DBPort,
			cfg.DBSSLMode,
		)
		if cfg.DBIdleInTxTimeoutMS > 0 {
			dsn += fmt.Sprintf(" idle_in_transaction_session_timeout=%d", cfg.DBIdleInTxTimeoutMS)
		}
		return postgres.Open(dsn), nil
	case TypeSQLite:
		return sqlite.Open(cfg.DBPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"), nil
	case TypeSQLite3:
		return sqlite3.Open(cfg.DBPath + "?_busy_timeout=5000&_journal_mode=WAL"), nil
	default:
		return nil, fmt.Errorf("unsupported %s type", cfg.DBType)
	}
}
