package domain

import "errors"

// CommandResult is the structured outcome returned for every command,
// over HTTP and over the realtime channel alike.
type CommandResult struct {
	Success          bool              `json:"success"`
	Data             any               `json:"data,omitempty"`
	Message          string            `json:"message,omitempty"`
	ErrorCode        ErrorCode         `json:"errorCode,omitempty"`
	ValidationErrors map[string]string `json:"validationErrors,omitempty"`
}

// NewResult builds a CommandResult from a command's return values.
// Errors that are not domain errors are reported as INTERNAL_ERROR
// without their message.
func NewResult(data any, err error) CommandResult {
	if err == nil {
		return CommandResult{Success: true, Data: data}
	}

	var de *Error
	if errors.As(err, &de) {
		return CommandResult{
			Message:          de.Message,
			ErrorCode:        de.Code,
			ValidationErrors: de.Fields,
		}
	}

	return CommandResult{
		Message:   "internal error",
		ErrorCode: CodeInternal,
	}
}
