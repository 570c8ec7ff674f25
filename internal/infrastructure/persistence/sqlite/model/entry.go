package model

type Entry struct {
	EntryID   uint64 `gorm:"column:entry_id;primaryKey;autoIncrement"`
	BatchID   string `gorm:"column:batch_id;type:text;not null;default:'';index"`
	Account   string `gorm:"column:account;type:text;not null;index"`
	Reference string `gorm:"column:reference;type:text;not null;uniqueIndex"`
	Amount    int64  `gorm:"column:amount;not null"`
	Memo      string `gorm:"column:memo;type:text;not null;default:''"`
	CreatedAt string `gorm:"column:created_at;type:text;not null"`
}

func (Entry) TableName() string {
	return "journal_entries"
}
