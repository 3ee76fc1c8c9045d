package utils

import "time"

// APIResponse is the envelope of every host API reply. Code is the check-in
// outcome code, for example "quota_exceeded". Error is the detail.
type APIResponse struct {
	Success   bool        `json:"success"`
	Message   string      `json:"message"`
	Data      interface{} `json:"data,omitempty"`
	Code      string      `json:"code,omitempty"`
	Error     string      `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

func SuccessResponse(message string, data interface{}) APIResponse {
	return APIResponse{
		Success:   true,
		Message:   message,
		Data:      data,
		Timestamp: time.Now(),
	}
}

func ErrorResponse(message, detail string) APIResponse {
	return APIResponse{
		Success:   false,
		Message:   message,
		Error:     detail,
		Timestamp: time.Now(),
	}
}

// CodedErrorResponse is ErrorResponse for a rejection with a check-in code.
func CodedErrorResponse(message, code, detail string) APIResponse {
	resp := ErrorResponse(message, detail)
	resp.Code = code
	return resp
}
