package db

import (
	"fmt"
	"log"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"parkpeek-guard/config"
	"parkpeek-guard/internal/model"
)

// Default parking locations. IDs match the slot rows the guard app was built against.
var defaultSlots = []model.ParkingSlot{
	{ID: 1, Name: "Einstein", TotalCapacity: 50},
	{ID: 2, Name: "Rizal", TotalCapacity: 50},
}

// Init initializes the database connection and runs migrations.
func Init(cfg *config.DatabaseConfig, listenChannel string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN), NewGormConfig(logger.Info))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetimeMinutes) * time.Minute)

	if err := Migrate(db); err != nil {
		return nil, err
	}

	log.Println("Applying PostgreSQL change-notification trigger...")
	if err := applyNotifyDDL(db, listenChannel); err != nil {
		log.Printf("Warning: failed to apply notify trigger: %v. Dashboards will rely on periodic refresh.", err)
	}

	if cfg.Seed {
		if err := SeedSlots(db); err != nil {
			return nil, err
		}
	}

	log.Println("Database initialization complete.")
	return db, nil
}

// NewGormConfig translates driver errors such as unique violations into gorm's sentinels.
func NewGormConfig(level logger.LogLevel) *gorm.Config {
	return &gorm.Config{
		Logger:         logger.Default.LogMode(level),
		TranslateError: true,
	}
}

// Migrate creates the schema. It works on both PostgreSQL and SQLite.
func Migrate(db *gorm.DB) error {
	log.Println("Running database migrations...")
	if err := db.AutoMigrate(
		&model.ParkingSlot{},
		&model.Profile{},
		&model.Vehicle{},
		&model.ParkingTransaction{},
		&model.Guard{},
		&model.Report{},
		&model.PushSubscription{},
	); err != nil {
		return fmt.Errorf("automigrate failed: %w", err)
	}

	// At most one active session per (user, slot).
	ddl := "CREATE UNIQUE INDEX IF NOT EXISTS idx_tx_one_active_per_user_slot " +
		"ON parking_transactions (user_id, parking_slot_id) WHERE status = 'active';"
	if err := db.Exec(ddl).Error; err != nil {
		return fmt.Errorf("DDL failed on %q: %w", ddl, err)
	}
	return nil
}

// SeedSlots inserts the default parking locations when they are missing.
func SeedSlots(db *gorm.DB) error {
	for _, slot := range defaultSlots {
		s := slot
		if err := db.Where(model.ParkingSlot{Name: s.Name}).FirstOrCreate(&s).Error; err != nil {
			return fmt.Errorf("failed to seed parking slot %q: %w", s.Name, err)
		}
	}
	return nil
}

func applyNotifyDDL(db *gorm.DB, channel string) error {
	ddls := []string{
		"CREATE OR REPLACE FUNCTION notify_parking_slots_changed() RETURNS trigger AS $$ " +
			"BEGIN PERFORM pg_notify('" + channel + "', NEW.name); RETURN NEW; END; $$ LANGUAGE plpgsql;",
		"DROP TRIGGER IF EXISTS parking_slots_changed ON parking_slots;",
		"CREATE TRIGGER parking_slots_changed AFTER INSERT OR UPDATE ON parking_slots " +
			"FOR EACH ROW EXECUTE FUNCTION notify_parking_slots_changed();",
	}

	for _, ddl := range ddls {
		if err := db.Exec(ddl).Error; err != nil {
			return fmt.Errorf("DDL failed on %q: %w", ddl, err)
		}
	}
	return nil
}
