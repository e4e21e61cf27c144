package db

import (
	"testing"

	"github.com/smallbiznis/newsletter/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func configFor(dbType string) config.Config {
	return config.Config{
		DBType:        dbType,
		DBHost:        "localhost",
		DBPort:        "5432",
		DBName:        "newsletter",
		DBUser:        "postgres",
		DBPassword:    "secret",
		DBSSLMode:     "disable",
		DBPath:        "test.db",
		DBMaxIdleConn: 5,
		DBMaxOpenConn: 20,
	}
}

func TestDialect(t *testing.T) {
	for _, dbType := range []string{"postgres", "mysql", "sqlite", "sqlite3", "POSTGRES"} {
		d, err := Dialect(configFor(dbType))
		require.NoError(t, err, dbType)
		assert.NotNil(t, d)
	}

	_, err := Dialect(configFor("oracle"))
	assert.Error(t, err)
}

func TestIsSQLite(t *testing.T) {
	assert.True(t, IsSQLite("sqlite"))
	assert.True(t, IsSQLite(" SQLite3 "))
	assert.False(t, IsSQLite("postgres"))
}
