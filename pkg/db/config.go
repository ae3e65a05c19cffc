package db

import (
	"time"

	"github.com/smallbiznis/sitebill/internal/config"
)

type Config struct {
	Type            string
	Host            string
	Port            string
	Name            string
	User            string
	Password        string
	SSLMode         string
	MaxIdleConn     int
	MaxOpenConn     int
	ConnMaxLifetime int
	ConnMaxIdleTime int
	SlowQueryMs     int
}

// FromAppConfig copies the DATABASE_* settings out of the application config.
func FromAppConfig(cfg config.Config) Config {
	return Config{
		Type:            cfg.DBType,
		Host:            cfg.DBHost,
		Port:            cfg.DBPort,
		Name:            cfg.DBName,
		User:            cfg.DBUser,
		Password:        cfg.DBPassword,
		SSLMode:         cfg.DBSSLMode,
		MaxIdleConn:     cfg.DBMaxIdleConn,
		MaxOpenConn:     cfg.DBMaxOpenConn,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
		ConnMaxIdleTime: cfg.DBConnMaxIdleTime,
		SlowQueryMs:     cfg.DBSlowQueryMs,
	}
}

func (c Config) connMaxLifetime() time.Duration {
	if c.ConnMaxLifetime <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(c.ConnMaxLifetime) * time.Second
}

func (c Config) connMaxIdleTime() time.Duration {
	if c.ConnMaxIdleTime <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.ConnMaxIdleTime) * time.Second
}

func (c Config) slowQueryThreshold() time.Duration {
	if c.SlowQueryMs <= 0 {
		return 200 * time.Millisecond
	}
	return time.Duration(c.SlowQueryMs) * time.Millisecond
}
