package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/rodrigodh/robosats/db"
	"gorm.io/gorm"
)

func Migrate(gormDB *gorm.DB) error {
	// Run versioned migrations first (for schema changes AutoMigrate can't handle)
	m := gormigrate.New(gormDB, gormigrate.DefaultOptions, []*gormigrate.Migration{
		_202508121030_hold_invoices_fk_cascade,
	})
	if err := m.Migrate(); err != nil {
		return err
	}

	// AutoMigrate all core models
	return gormDB.AutoMigrate(
		&db.UserConfig{},
		&db.Order{},
		&db.HoldInvoice{},
		&db.CurrencyRate{},
	)
}
