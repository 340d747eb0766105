package history

import "time"

type QueryType string

const (
	TypeNL2SQLQuery QueryType = "nl2sql"
	TypeNL2SQLOnly  QueryType = "nl2sql-only"
	TypeDirect      QueryType = "direct"
)

type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
	// StatusPartial marks SQL that was generated and validated but never executed.
	StatusPartial Status = "partial"
)

// Record is one query attempt. Records are append-only.
type Record struct {
	ID             string         `gorm:"primaryKey;size:26" json:"id"` // ULID
	UserID         uint64         `gorm:"not null;index:idx_query_logs_user_created,priority:1" json:"user_id"`
	QueryType      QueryType      `gorm:"type:varchar(16);index;not null" json:"query_type"`
	QueryText      string         `gorm:"type:text;not null" json:"query_text"`
	SQL            string         `gorm:"column:sql_text;type:text" json:"sql,omitempty"`
	Status         Status         `gorm:"type:varchar(16);index;not null" json:"status"`
	ErrorCategory  string         `gorm:"type:varchar(32)" json:"error_category,omitempty"`
	ErrorMessage   string         `gorm:"type:text" json:"error_message,omitempty"`
	ModelUsed      string         `gorm:"type:varchar(64)" json:"model_used"`
	ProcessingTime float64        `json:"processing_time"` // seconds
	RowCount       int            `json:"row_count"`
	ResponseText   string         `gorm:"type:text" json:"response_text,omitempty"`
	MetaInfo       map[string]any `gorm:"serializer:json;type:text" json:"meta_info,omitempty"`
	CreatedAt      time.Time      `gorm:"index:idx_query_logs_user_created,priority:2" json:"created_at"`
}

func (Record) TableName() string { return "ai_query_logs" }

// Item is the listing view of a Record.
type Item struct {
	ID             string    `json:"id"`
	Query          string    `json:"query"`
	QueryType      QueryType `json:"query_type"`
	Timestamp      time.Time `json:"timestamp"`
	Status         Status    `json:"status"`
	Model          string    `json:"model"`
	ProcessingTime float64   `json:"processing_time"`
	SQL            string    `json:"sql,omitempty"`
	RowCount       int       `json:"row_count"`
	ErrorCategory  string    `json:"error_category,omitempty"`
}

func (r Record) Item() Item {
	return Item{
		ID:             r.ID,
		Query:          r.QueryText,
		QueryType:      r.QueryType,
		Timestamp:      r.CreatedAt,
		Status:         r.Status,
		Model:          r.ModelUsed,
		ProcessingTime: r.ProcessingTime,
		SQL:            r.SQL,
		RowCount:       r.RowCount,
		ErrorCategory:  r.ErrorCategory,
	}
}
