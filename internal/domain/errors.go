package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// Category sentinels. Use with NewSubSystemError for subsystem-specific errors.
var (
	ErrTimeout      = fmt.Errorf("operation timed out")
	ErrInvalidInput = fmt.Errorf("invalid input")
)

// Sentinel errors for the client runtime.
var (
	ErrNotConnected     = fmt.Errorf("not connected")
	ErrConnectionClosed = fmt.Errorf("connection closed")
	ErrAlreadyClosed    = fmt.Errorf("connection instance already closed")
	ErrUnknownProtocol  = fmt.Errorf("unknown protocol")

	// Framing / classification errors. Both are fatal to the connection.
	ErrFrameParse    = fmt.Errorf("malformed frame")
	ErrFrameTooLarge = fmt.Errorf("frame exceeds maximum size")

	// Circuit breaker rejected the call without reaching the server.
	ErrCircuitOpen = fmt.Errorf("circuit open")
)

// RPCError is a protocol-level error returned by the server in a response.
// It only affects the call it answers.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return strconv.Itoa(e.Code) + ": " + e.Message
}

// FrameError reports a frame that could not be decoded as JSON.
type FrameError struct {
	Frame []byte
	Err   error
}

func (e *FrameError) Error() string {
	const maxShown = 128
	shown := e.Frame
	suffix := ""
	if len(shown) > maxShown {
		shown = shown[:maxShown]
		suffix = "..."
	}
	return fmt.Sprintf("%s: %q%s: %v", ErrFrameParse, shown, suffix, e.Err)
}

func (e *FrameError) Unwrap() []error { return []error{ErrFrameParse, e.Err} }

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op        string // operation name (e.g., "Socket.Read")
	Err       error  // underlying sentinel or wrapped error
	Detail    string // human-readable detail
	SubSystem string // subsystem identifier (e.g., "transport"); used for ErrorCode dispatch
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// NewSubSystemError creates a DomainError tagged with a subsystem for ErrorCode dispatch.
func NewSubSystemError(subsystem, op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail, SubSystem: subsystem}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil.
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// ClosedError builds the error handed to calls that were pending when the
// connection went down. It matches ErrConnectionClosed and, when set, cause.
func ClosedError(cause error) error {
	switch {
	case cause == nil:
		return ErrConnectionClosed
	case errors.Is(cause, ErrConnectionClosed):
		return cause
	default:
		return fmt.Errorf("%w: %w", ErrConnectionClosed, cause)
	}
}

// IsRetryableError reports whether err is a transient error that may succeed
// on a fresh connection.
func IsRetryableError(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrConnectionClosed) || errors.Is(err, ErrNotConnected)
}

// ErrorCode is a machine-parseable error category for monitoring and alerting.
type ErrorCode string

const (
	CodeUnknown          ErrorCode = "UNKNOWN"
	CodeTimeout          ErrorCode = "TIMEOUT"
	CodeInvalidInput     ErrorCode = "INVALID_INPUT"
	CodeNotConnected     ErrorCode = "NOT_CONNECTED"
	CodeConnectionClosed ErrorCode = "CONNECTION_CLOSED"
	CodeAlreadyClosed    ErrorCode = "ALREADY_CLOSED"
	CodeUnknownProtocol  ErrorCode = "UNKNOWN_PROTOCOL"
	CodeFrameParse       ErrorCode = "FRAME_PARSE"
	CodeFrameTooLarge    ErrorCode = "FRAME_TOO_LARGE"
	CodeCircuitOpen      ErrorCode = "CIRCUIT_OPEN"
	CodeRPCError         ErrorCode = "RPC_ERROR"

	// Subsystem-specific codes.
	CodeConnectTimeout   ErrorCode = "CONNECT_TIMEOUT"
	CodeTransportTimeout ErrorCode = "TRANSPORT_TIMEOUT"
	CodeRequestTimeout   ErrorCode = "REQUEST_TIMEOUT"
)

// errorCodeMap maps sentinel errors to their machine-parseable codes.
// Order matters for wrapped chains: more specific sentinels are checked first.
var errorCodeMap = []struct {
	err  error
	code ErrorCode
}{
	{ErrFrameTooLarge, CodeFrameTooLarge},
	{ErrFrameParse, CodeFrameParse},
	{ErrTimeout, CodeTimeout},
	{ErrNotConnected, CodeNotConnected},
	{ErrAlreadyClosed, CodeAlreadyClosed},
	{ErrConnectionClosed, CodeConnectionClosed},
	{ErrUnknownProtocol, CodeUnknownProtocol},
	{ErrCircuitOpen, CodeCircuitOpen},
	{ErrInvalidInput, CodeInvalidInput},
}

// subSystemCodeMap maps (category sentinel, subsystem) pairs to specific ErrorCodes.
var subSystemCodeMap = map[error]map[string]ErrorCode{
	ErrTimeout: {
		"connect":   CodeConnectTimeout,
		"transport": CodeTransportTimeout,
		"guard":     CodeRequestTimeout,
		"request":   CodeRequestTimeout,
	},
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}

	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		return CodeRPCError
	}

	var de *DomainError
	if errors.As(err, &de) {
		if code := de.Code(); code != CodeUnknown {
			return code
		}
	}

	for _, entry := range errorCodeMap {
		if errors.Is(err, entry.err) {
			return entry.code
		}
	}
	return CodeUnknown
}

// Code returns the ErrorCode for this DomainError's underlying sentinel.
// If SubSystem is set, checks the subSystemCodeMap for a specific code.
func (e *DomainError) Code() ErrorCode {
	if e.SubSystem != "" {
		if subsysMap, ok := subSystemCodeMap[e.Err]; ok {
			if code, ok := subsysMap[e.SubSystem]; ok {
				return code
			}
		}
	}
	for _, entry := range errorCodeMap {
		if errors.Is(e.Err, entry.err) {
			return entry.code
		}
	}
	return CodeUnknown
}
