package session

import "time"

// Session captures one negotiation conversation. Sessions have a single
// Active state and live until evicted or the process exits.
type Session struct {
	ID        string           `json:"session_id"`
	Context   FinancialContext `json:"context"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}
