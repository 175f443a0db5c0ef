package db

import (
	"database/sql"
	"sync"
	"time"

	"github.com/fedspend/broker/pkg/log"
	"github.com/jackc/pgx/v4/stdlib"
	"github.com/ngrok/sqlmw"
	"github.com/pkg/errors"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// metricsDriverName is the database/sql driver that wraps pgx with the
// prometheus interceptor.
const metricsDriverName = "pgx-metrics"

var registerOnce sync.Once

// Open opens a gorm handle for the given database type. Postgres
// connections are routed through the metrics driver.
func Open(databaseType, dsn string, slowThreshold time.Duration) (*gorm.DB, error) {
	var dialector gorm.Dialector

	switch databaseType {
	case "postgres":
		registerOnce.Do(func() {
			sql.Register(metricsDriverName, sqlmw.Driver(stdlib.GetDefaultDriver(), &metricInterceptor{}))
		})
		dialector = postgres.New(postgres.Config{
			DriverName: metricsDriverName,
			DSN:        dsn,
		})
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, errors.Errorf("unsupported database type: %v", databaseType)
	}

	gdb, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.New(gormWriter{}, logger.Config{
			SlowThreshold:             slowThreshold,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			ParameterizedQueries:      true,
			Colorful:                  false,
		}),
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to database")
	}

	if databaseType == "postgres" {
		sqlDB, err := gdb.DB()
		if err != nil {
			return nil, errors.Wrap(err, "failed to configure connections")
		}
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetMaxOpenConns(100)
	}

	return gdb, nil
}

// Migrate applies the model schema to the database.
func Migrate(gdb *gorm.DB, models ...interface{}) error {
	if err := gdb.AutoMigrate(models...); err != nil {
		return errors.Wrap(err, "failed to migrate database")
	}
	return nil
}

// gormWriter routes gorm's logger output through the zap logger.
type gormWriter struct{}

func (gormWriter) Printf(format string, args ...interface{}) {
	log.Warn("gorm", "detail", sprintf(format, args...))
}
