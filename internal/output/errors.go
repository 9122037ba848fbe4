package output

import (
	"fmt"
	"io"
)

// ErrorResponse is the structured form of a command failure.
type ErrorResponse struct {
	Success bool   `json:"success" yaml:"success"`
	Error   string `json:"error" yaml:"error"`
	Code    string `json:"code,omitempty" yaml:"code,omitempty"`
}

// NewError creates an ErrorResponse.
func NewError(msg string) ErrorResponse {
	return ErrorResponse{Error: msg}
}

// NewErrorWithCode creates an ErrorResponse with a machine-readable code.
func NewErrorWithCode(code, msg string) ErrorResponse {
	return ErrorResponse{Error: msg, Code: code}
}

// Error outputs an error in the appropriate format
func (f *Formatter) Error(err error) error {
	if f.IsStructured() {
		return f.Output(NewError(err.Error()), nil)
	}
	return err
}

// ErrorWithCode outputs an error with a code in the appropriate format
func (f *Formatter) ErrorWithCode(code, msg string) error {
	if f.IsStructured() {
		return f.Output(NewErrorWithCode(code, msg), nil)
	}
	return fmt.Errorf("[%s] %s", code, msg)
}

// PrintError writes an error to w in the given format.
func PrintError(w io.Writer, err error, format Format) {
	switch format {
	case FormatJSON:
		_ = WriteJSON(w, NewError(err.Error()), true)
	case FormatYAML:
		_ = WriteYAML(w, NewError(err.Error()))
	default:
		fmt.Fprintf(w, "Error: %v\n", err)
	}
}
