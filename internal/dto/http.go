package dto

import (
	"net/http"
	"time"
)

// BaseResponse is the envelope returned by every ops API endpoint.
type BaseResponse struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func NewBaseResponse(code int, message string, data interface{}) *BaseResponse {
	return &BaseResponse{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

func NewSuccessResponse(message string, data interface{}) *BaseResponse {
	return NewBaseResponse(http.StatusOK, message, data)
}

type HealthStatus struct {
	ModelLoaded bool      `json:"model_loaded"`
	Jobs        int       `json:"jobs"`
	Time        time.Time `json:"time"`
}
