package model

type Audit struct {
	AuditID   uint64 `gorm:"column:audit_id;primaryKey;autoIncrement"`
	BatchID   string `gorm:"column:batch_id;type:text;not null;index"`
	Action    string `gorm:"column:action;type:text;not null"`
	Detail    string `gorm:"column:detail;type:text;not null;default:''"`
	CreatedAt string `gorm:"column:created_at;type:text;not null"`
}

func (Audit) TableName() string {
	return "journal_audit"
}
