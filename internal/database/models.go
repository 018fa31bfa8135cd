package database

import "time"

// AnalysisRecord is a cached analysis keyed by the image pair
type AnalysisRecord struct {
	Key        string    `db:"key"`
	ResultJSON string    `db:"result_json"`
	CreatedAt  time.Time `db:"created_at"`
}

// LLMCall is one billed vendor call
type LLMCall struct {
	ID               int64     `db:"id"`
	Operation        string    `db:"operation"` // "analyze", "suggest"
	Provider         string    `db:"provider"`
	Model            string    `db:"model"`
	PromptTokens     int64     `db:"prompt_tokens"`
	CompletionTokens int64     `db:"completion_tokens"`
	Cost             float64   `db:"cost"`
	CreatedAt        time.Time `db:"created_at"`
}

// UsageTotal aggregates calls per provider and model
type UsageTotal struct {
	Provider         string  `json:"provider"`
	Model            string  `json:"model"`
	Calls            int     `json:"calls"`
	PromptTokens     int64   `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
	Cost             float64 `json:"cost"`
}
