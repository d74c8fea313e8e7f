package migrations

import (
	"strings"

	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

// Adds ON DELETE CASCADE to the hold_invoices.order_id FK. GORM's AutoMigrate
// does not update existing FK constraints in SQLite, so the table has to be
// recreated. Fresh databases skip this and get the constraint from AutoMigrate.
var _202508121030_hold_invoices_fk_cascade = &gormigrate.Migration{
	ID: "202508121030_hold_invoices_fk_cascade",
	Migrate: func(tx *gorm.DB) error {
		if !tx.Migrator().HasTable("hold_invoices") {
			return nil
		}

		var tableSql string
		err := tx.Raw("SELECT sql FROM sqlite_master WHERE type='table' AND name='hold_invoices'").Scan(&tableSql).Error
		if err != nil {
			return err
		}

		if strings.Contains(tableSql, "ON DELETE CASCADE") {
			return nil
		}

		columns := []string{
			"id", "order_id", "role", "backend", "payment_request",
			"payment_hash", "preimage", "amount_sat", "status",
			"consecutive_failures", "expires_at", "settled_at",
			"created_at", "updated_at",
		}
		columnList := strings.Join(columns, ", ")

		createSQL := `
			CREATE TABLE hold_invoices_new (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				order_id INTEGER,
				role TEXT,
				backend TEXT,
				payment_request TEXT,
				payment_hash TEXT,
				preimage TEXT,
				amount_sat INTEGER,
				status TEXT,
				consecutive_failures INTEGER,
				expires_at DATETIME,
				settled_at DATETIME,
				created_at DATETIME,
				updated_at DATETIME,
				CONSTRAINT fk_hold_invoices_order FOREIGN KEY (order_id) REFERENCES orders(id) ON DELETE CASCADE
			)
		`
		if err := tx.Exec(createSQL).Error; err != nil {
			return err
		}

		copySQL := "INSERT INTO hold_invoices_new (" + columnList + ") SELECT " + columnList + " FROM hold_invoices"
		if err := tx.Exec(copySQL).Error; err != nil {
			return err
		}

		if err := tx.Exec("DROP TABLE hold_invoices").Error; err != nil {
			return err
		}

		return tx.Exec("ALTER TABLE hold_invoices_new RENAME TO hold_invoices").Error
	},
	Rollback: func(tx *gorm.DB) error {
		return nil
	},
}
