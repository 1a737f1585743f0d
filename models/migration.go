package models

import (
	"log"

	"github.com/mmdatafocus/cargo_backend/config"
	"gorm.io/gorm"
)

// AllModels is ordered parents first so foreign keys can be created.
func AllModels() []interface{} {
	return []interface{}{
		&Request{}, &Quotation{}, &BidStatus{},
		&PendingQuotation{}, &SyncAnomaly{}, &DispatchRecord{},
	}
}

func MigrateTable() {
	if err := Migrate(config.GetDB()); err != nil {
		log.Fatal(err)
	}
}

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(AllModels()...)
}
