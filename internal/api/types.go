package api

import "time"

// TokenRequest represents the request payload for a control token
type TokenRequest struct {
	Secret string `json:"secret" validate:"required"`
}

// TokenResponse represents the response payload for a control token
type TokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	ClientID  string    `json:"client_id"`
}

// ConnectRequest optionally overrides the configured API key
type ConnectRequest struct {
	APIKey string `json:"api_key,omitempty"`
}

// TextRequest is a typed user message
type TextRequest struct {
	Text string `json:"text"`
}

// ToggleResponse reports whether a capture is running after a toggle
type ToggleResponse struct {
	Active bool `json:"active"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
