package service

import (
	"errors"
	"fmt"
	"strings"

	"subtrans/pkg/log"
)

type ErrorType int

const (
	ErrFileNotFound ErrorType = iota
	ErrFileRead
	ErrFileWrite
	ErrParse
	ErrAPI
	ErrValidation
	ErrConfig
	ErrProgress
	ErrTranslation
	ErrUnknown
)

// AppError carries a classified error with free-form context values.
type AppError struct {
	Type    ErrorType
	Message string
	Context map[string]any
	Cause   error
}

func NewError(errorType ErrorType, message string) *AppError {
	return &AppError{
		Type:    errorType,
		Message: message,
		Context: make(map[string]any),
	}
}

func NewErrorWithCause(errorType ErrorType, message string, cause error) *AppError {
	return &AppError{
		Type:    errorType,
		Message: message,
		Context: make(map[string]any),
		Cause:   cause,
	}
}

func (e *AppError) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[%s] %s", e.Type.String(), e.Message))

	if len(e.Context) > 0 {
		var ctxParts []string
		for k, v := range e.Context {
			ctxParts = append(ctxParts, fmt.Sprintf("%s=%v", k, v))
		}
		parts = append(parts, fmt.Sprintf("context: %s", strings.Join(ctxParts, ", ")))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause: %v", e.Cause))
	}

	return strings.Join(parts, " | ")
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func (e *AppError) WithContext(key string, value any) *AppError {
	e.Context[key] = value
	return e
}

func (t ErrorType) String() string {
	switch t {
	case ErrFileNotFound:
		return "FileNotFound"
	case ErrFileRead:
		return "FileRead"
	case ErrFileWrite:
		return "FileWrite"
	case ErrParse:
		return "Parse"
	case ErrAPI:
		return "API"
	case ErrValidation:
		return "Validation"
	case ErrConfig:
		return "Config"
	case ErrProgress:
		return "Progress"
	case ErrTranslation:
		return "Translation"
	default:
		return "Unknown"
	}
}

type ErrorHandler interface {
	Handle(err error) bool
	GetAdvice(err *AppError) string
}

type DefaultErrorHandler struct{}

func NewDefaultErrorHandler() ErrorHandler {
	return &DefaultErrorHandler{}
}

func (h *DefaultErrorHandler) Handle(err error) bool {
	appErr, ok := err.(*AppError)
	if !ok {
		log.Error("Unknown Error: %v", err)
		return false
	}

	advice := h.GetAdvice(appErr)
	log.Error("Error Detail: %v\n advice: %s", err, advice)

	return true
}

// GetAdvice returns error handling advice
func (h *DefaultErrorHandler) GetAdvice(err *AppError) string {
	switch err.Type {
	case ErrFileNotFound:
		return "Check that the subtitle path is correct and the file exists with read permissions"
	case ErrFileRead:
		return "Check file permissions and verify the file is not corrupted"
	case ErrFileWrite:
		return "Ensure the output directory exists and has write permissions"
	case ErrParse:
		return "Verify the file is well-formed SRT: numbered blocks, a time range line, and text separated by blank lines"
	case ErrAPI:
		return "Check the API key, the endpoint URL, and the provider's service status"
	case ErrValidation:
		return "Verify input parameters; file paths cannot be empty"
	case ErrConfig:
		return "Check that environment variables are set correctly"
	case ErrProgress:
		return "The progress sidecar was unusable and a fresh start was forced; pass --restart to silence this"
	case ErrTranslation:
		return "Translation kept failing; try a smaller batch size or a different fallback model"
	default:
		return "Review the detailed error output and check configuration and input files"
	}
}

func IsErrorType(err error, errorType ErrorType) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type == errorType
	}
	return false
}

func WrapError(err error, errorType ErrorType, message string) *AppError {
	return NewErrorWithCause(errorType, message, err)
}
