package models

// All returns every persisted model, in dependency order, for AutoMigrate.
func All() []interface{} {
	return []interface{}{
		&User{},
		&Account{},
		&Category{},
		&Transaction{},
		&CategorisationRule{},
		&Budget{},
		&AlertPreference{},
		&Notification{},
		&AuditLog{},
	}
}
