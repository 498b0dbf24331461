package storage

import (
	"fmt"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Open initializes the database connection for driver ("postgres" or
// "mysql") and performs migrations.
func Open(driver, dsn string) (*gorm.DB, error) {
	const op = "storage.Open"

	var dialector gorm.Dialector
	switch driver {
	case "postgres":
		dialector = postgres.Open(dsn)
	case "mysql":
		dialector = mysql.Open(dsn)
	default:
		return nil, fmt.Errorf("%s: unsupported driver %q", op, driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		TranslateError:         true,
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := Migrate(db); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return db, nil
}

// Migrate creates the tables and seeds the join counter.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&User{}, &Game{}, &Join{}, &Move{}, &Sequence{}); err != nil {
		return err
	}
	return db.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&Sequence{Name: joinSequence}).Error
}
