package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	_ "modernc.org/sqlite"

	"parking-service/internal/config"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

const sqlitePragmas = "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"

func New(cfg *config.Config, log zerolog.Logger) (*gorm.DB, error) {
	database, err := Open(cfg.DB, log)
	if err != nil {
		return nil, err
	}
	if err := EnsureSlots(context.Background(), database, cfg.Parking.SlotCount); err != nil {
		return nil, fmt.Errorf("seed parking slots: %w", err)
	}
	return database, nil
}

// Open connects to the configured database and applies migrations.
func Open(cfg config.DBConfig, log zerolog.Logger) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case DriverPostgres:
		dialector = postgres.Open(cfg.DSN)
	case DriverSQLite, "":
		// modernc.org/sqlite registers itself as "sqlite"
		dialector = sqlite.Dialector{DriverName: "sqlite", DSN: sqliteDSN(cfg.DSN)}
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	database, err := gorm.Open(dialector, &gorm.Config{
		Logger: newGormLogger(log),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := database.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql db: %w", err)
	}

	if cfg.Driver == DriverPostgres {
		if cfg.MaxOpenConns > 0 {
			sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		}
		if cfg.MaxIdleConns > 0 {
			sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
		}
		if cfg.ConnMaxLifetime > 0 {
			sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
		}
	} else {
		// SQLite allows a single writer; one connection also keeps :memory: databases alive
		sqlDB.SetMaxOpenConns(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	driver := cfg.Driver
	if driver == "" {
		driver = DriverSQLite
	}
	if err := runMigrations(database, driver); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	log.Info().Str("driver", driver).Msg("database connected")
	return database, nil
}

func sqliteDSN(dsn string) string {
	if strings.Contains(dsn, "_pragma=") || strings.Contains(dsn, ":memory:") {
		return dsn
	}
	if strings.Contains(dsn, "?") {
		return dsn + "&" + sqlitePragmas
	}
	return dsn + "?" + sqlitePragmas
}

// EnsureSlots создаёт места 1..count, существующие места не трогает
func EnsureSlots(ctx context.Context, database *gorm.DB, count int) error {
	if count <= 0 {
		return nil
	}
	type parkingSlot struct {
		SlotNumber int `gorm:"column:slot_number;primaryKey"`
	}
	rows := make([]parkingSlot, 0, count)
	for i := 1; i <= count; i++ {
		rows = append(rows, parkingSlot{SlotNumber: i})
	}
	return database.WithContext(ctx).
		Table("parking_slots").
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(rows, 100).Error
}

func HealthCheck(ctx context.Context, database *gorm.DB) error {
	sqlDB, err := database.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func Close(database *gorm.DB) error {
	sqlDB, err := database.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
