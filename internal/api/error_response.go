package api

// ErrorResponse is the error envelope returned on every non-2xx response.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail describes the error payload.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
