package model

// Supplier is the master record for a supplier code seen on the advice feed.
type Supplier struct {
	SupplierCode string `gorm:"type:varchar(20);primaryKey"`
	SupplierName string `gorm:"type:varchar(200);not null"`
}

// TagRule groups suppliers under a display tag (e.g. "KCN", "HCM").
// Suppliers without a rule are tagged with their own code.
type TagRule struct {
	SupplierCode string `gorm:"type:varchar(20);primaryKey"`
	TagName      string `gorm:"type:varchar(50);not null"`
}
