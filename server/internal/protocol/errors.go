package protocol

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/roomcast/roomcast/pkg/types"
)

var (
	ErrMalformed          = errors.New("malformed frame")
	ErrUnknownType        = errors.New("unknown message type")
	ErrMissingData        = errors.New("missing or invalid data")
	ErrNotInitialized     = errors.New("init required first")
	ErrAlreadyInitialized = errors.New("already initialized")
)

// ProtocolError is a frame the server cannot accept. The connection that sent
// it is closed after the error notice is delivered.
type ProtocolError struct {
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err == nil {
		return e.Reason
	}
	return fmt.Sprintf("%s: %v", e.Reason, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

func protoErr(reason string, err error) *ProtocolError {
	return &ProtocolError{Reason: reason, Err: err}
}

// AuthorizationError is a well-formed command the connection's role does not
// permit. The connection stays open and no state changes.
type AuthorizationError struct {
	Action string
	Role   types.Role
	Err    error
}

func (e *AuthorizationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s not permitted for role %s: %v", e.Action, e.Role, e.Err)
	}
	return fmt.Sprintf("%s not permitted for role %s", e.Action, e.Role)
}

func (e *AuthorizationError) Unwrap() error { return e.Err }

// EncodeError renders err as an error envelope.
func EncodeError(err error) []byte {
	data := types.ErrorData{Code: types.CodeInternal, Message: "internal error"}

	var pe *ProtocolError
	var ae *AuthorizationError
	switch {
	case errors.As(err, &pe):
		data = types.ErrorData{Code: types.CodeProtocol, Message: pe.Error()}
	case errors.As(err, &ae):
		data = types.ErrorData{Code: types.CodeUnauthorized, Message: ae.Error()}
	}

	b, encErr := types.Encode(types.TypeError, data)
	if encErr != nil {
		slog.Error("protocol: encode error notice", "err", encErr)
		return []byte(`{"type":"error","data":{"code":"internal_error","message":"internal error"}}`)
	}
	return b
}
