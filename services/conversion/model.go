package conversion

import (
	"time"

	"gorm.io/datatypes"
)

type State string

const (
	StateValidated  State = "validated"
	StateDownloaded State = "downloaded"
	StateTranscoded State = "transcoded"
	StateStaged     State = "staged"
	StateSettled    State = "settled"
	StateDelivered  State = "delivered"
	StateFailed     State = "failed"
)

// ConversionRecord tracks a staged artifact until the sweep reclaims it.
type ConversionRecord struct {
	ID        int64          `gorm:"column:id;primaryKey;autoIncrement:false" json:"id"`
	AccountID int64          `gorm:"column:account_id;index" json:"account_id"`
	SourceRef string         `gorm:"column:source_ref" json:"source_ref"`
	StagedRef string         `gorm:"column:staged_ref" json:"staged_ref"`
	Format    string         `gorm:"column:format" json:"format"`
	Profile   datatypes.JSON `gorm:"column:profile" json:"profile"`
	ByteSize  int64          `gorm:"column:byte_size" json:"byte_size"`
	CreatedAt time.Time      `gorm:"column:created_at" json:"created_at"`
	ExpiresAt time.Time      `gorm:"column:expires_at;index" json:"expires_at"`
}

// ConversionUsage is one settled conversion, counted against the daily limit.
type ConversionUsage struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement:false" json:"id"`
	AccountID int64     `gorm:"column:account_id;index:idx_usage_account_created" json:"account_id"`
	RecordID  int64     `gorm:"column:record_id" json:"record_id"`
	Format    string    `gorm:"column:format" json:"format"`
	CreatedAt time.Time `gorm:"column:created_at;index:idx_usage_account_created" json:"created_at"`
}

func Models() []any {
	return []any{&ConversionRecord{}, &ConversionUsage{}}
}

// Outcome is what the caller gets back after a delivered conversion.
type Outcome struct {
	SessionID   int64     `json:"session_id,string"`
	RecordID    int64     `json:"record_id,string"`
	Format      string    `json:"format"`
	StagedRef   string    `json:"staged_ref"`
	DownloadURL string    `json:"download_url,omitempty"`
	ExpiresAt   time.Time `json:"expires_at"`
	Balance     int64     `json:"balance"`
	State       State     `json:"state"`
}
