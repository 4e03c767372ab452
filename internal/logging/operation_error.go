package logging

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// OperationError tags an error with the operation that failed and, when
// known, the request it failed for.
type OperationError struct {
	Operation string
	RequestID string
	Err       error
}

func (e *OperationError) Error() string {
	if e == nil || e.Err == nil {
		return ""
	}
	if e.RequestID == "" {
		return fmt.Sprintf("%s: %v", e.Operation, e.Err)
	}
	return fmt.Sprintf("%s [request %s]: %v", e.Operation, e.RequestID, e.Err)
}

func (e *OperationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewOperationError returns nil for a nil err.
func NewOperationError(operation, requestID string, err error) error {
	if err == nil {
		return nil
	}
	return &OperationError{Operation: operation, RequestID: requestID, Err: err}
}

// ErrorFields flattens err into log fields. An OperationError anywhere in
// the chain contributes operation and request_id.
func ErrorFields(err error) []zap.Field {
	var opErr *OperationError
	if !errors.As(err, &opErr) {
		return []zap.Field{zap.Error(err)}
	}
	fields := []zap.Field{zap.String("operation", opErr.Operation), zap.Error(opErr.Err)}
	if opErr.RequestID != "" {
		fields = append(fields, zap.String("request_id", opErr.RequestID))
	}
	return fields
}
