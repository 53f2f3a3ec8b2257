package handler

import (
	apperrors "github.com/careflow/careflow-api/pkg/errors"
)

type Response struct {
	Status  string      `json:"status"`
	Code    string      `json:"code,omitempty"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func NewSuccessResponse(data interface{}) *Response {
	return &Response{
		Status: "success",
		Data:   data,
	}
}

func NewErrorResponse(code apperrors.ErrorCode, message string) *Response {
	return &Response{
		Status:  "error",
		Code:    code.String(),
		Message: message,
	}
}
