package model

// ErrorResponse is the standard envelope for error responses.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains the structured error information returned by the API.
type ErrorDetail struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// APIKeyResponse is returned when a new key is issued. The raw key is shown
// exactly once.
type APIKeyResponse struct {
	AppName string `json:"app_name"`
	APIKey  string `json:"apiKey"`
}

// RefreshResponse is returned by a successful catalog refresh.
type RefreshResponse struct {
	Message     string `json:"message"`
	RecordCount int    `json:"recordCount"`
}

// CountResponse carries the catalog row count.
type CountResponse struct {
	Count int64 `json:"count"`
}
