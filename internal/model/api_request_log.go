package model

import "time"

const (
	// ResponseCodePending is recorded on a log row before the request is sent.
	ResponseCodePending = 0
	// ResponseCodeRefused marks an attempt the request budget turned away. It was
	// never sent and does not count toward the budget.
	ResponseCodeRefused = -1
)

// APIRequestLog is the audit trail of outbound provider calls. Rate-limit
// accounting is computed from these rows.
type APIRequestLog struct {
	ID           uint      `gorm:"primaryKey"`
	Provider     string    `gorm:"type:varchar(50);not null;index:idx_api_request_logs_provider_time"`
	RequestType  string    `gorm:"type:varchar(50);not null"`
	Symbol       string    `gorm:"type:varchar(20)"`
	RequestTime  time.Time `gorm:"not null;index:idx_api_request_logs_provider_time"`
	ResponseCode int       `gorm:"not null;default:0"`
	ErrorMessage *string   `gorm:"type:text"`
	RequestCount int       `gorm:"not null;default:1"`
	CreatedAt    time.Time `gorm:"autoCreateTime"`
}

func (APIRequestLog) TableName() string {
	return "api_request_logs"
}
