package audit

import (
	"encoding/json"
	"time"
)

// Level is the severity of an audit entry
type Level string

const (
	LevelDebug   Level = "DEBUG"
	LevelInfo    Level = "INFO"
	LevelWarning Level = "WARNING"
	LevelError   Level = "ERROR"
)

// Category groups entries for downstream alerting. Values are part of the
// stored data and must not be renamed.
type Category string

const (
	CategoryEnrollment   Category = "enrollment"
	CategoryValidation   Category = "validation"
	CategoryPricing      Category = "pricing"
	CategoryProcessor    Category = "processor"
	CategoryWebhook      Category = "webhook"
	CategoryNotification Category = "notification"
	CategoryExport       Category = "export"
	CategorySystem       Category = "system"
)

// Entry is one row of the append-only audit log
type Entry struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Level     Level          `json:"level"`
	Category  Category       `json:"category"`
	Message   string         `json:"message"`
	Context   map[string]any `json:"context,omitempty"`
	Origin    string         `json:"origin,omitempty"`
	Actor     string         `json:"actor,omitempty"`
}

// ContextJSON serializes the entry context for storage
func (e *Entry) ContextJSON() ([]byte, error) {
	if len(e.Context) == 0 {
		return []byte("{}"), nil
	}
	return json.Marshal(e.Context)
}

// ToJSON converts the entry to JSON
func (e *Entry) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// Filter selects entries when reading the audit log back
type Filter struct {
	Category Category
	Level    Level
	Since    *time.Time
	Limit    int
}
