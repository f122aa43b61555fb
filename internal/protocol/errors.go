// Package protocol implements the wire codec, message validator, and error
// taxonomy for the model-worker protocol: a length-prefixed binary framing
// format (plus a legacy newline-delimited JSON variant) spoken over a Unix
// domain socket between a front-end dispatcher and this worker.
package protocol

import "fmt"

// Code is a stable numeric error code from the worker's closed taxonomy.
// Front-end dispatchers key error handling off these values, so they must
// never be renumbered once assigned.
type Code int

const (
	SocketError Code = iota + 1
	SocketBindError
	ReceiveError
	SendMsgFail
	SendFailsExceedsLimits
	InvalidMessage
	InvalidCommand
	UnknownCommand
	InvalidLoadMessage
	InvalidPredictMessage
	InvalidUnloadMessage
	UnsupportedPredictOperation
	UnknownContentType
	ModelServiceNotLoaded
	ModelCurrentlyNotLoaded
	ValueErrorWhileLoading
	UnknownExceptionWhileLoading
	CodecFail
	CustomServiceError
	UnknownException
)

// MaxFailureThreshold is the number of consecutive send failures the worker
// tolerates before it treats the connection as unrecoverable and exits.
const MaxFailureThreshold = 10

var codeNames = map[Code]string{
	SocketError:                  "SOCKET_ERROR",
	SocketBindError:              "SOCKET_BIND_ERROR",
	ReceiveError:                 "RECEIVE_ERROR",
	SendMsgFail:                  "SEND_MSG_FAIL",
	SendFailsExceedsLimits:       "SEND_FAILS_EXCEEDS_LIMITS",
	InvalidMessage:               "INVALID_MESSAGE",
	InvalidCommand:               "INVALID_COMMAND",
	UnknownCommand:               "UNKNOWN_COMMAND",
	InvalidLoadMessage:           "INVALID_LOAD_MESSAGE",
	InvalidPredictMessage:        "INVALID_PREDICT_MESSAGE",
	InvalidUnloadMessage:         "INVALID_UNLOAD_MESSAGE",
	UnsupportedPredictOperation:  "UNSUPPORTED_PREDICT_OPERATION",
	UnknownContentType:          "UNKNOWN_CONTENT_TYPE",
	ModelServiceNotLoaded:        "MODEL_SERVICE_NOT_LOADED",
	ModelCurrentlyNotLoaded:      "MODEL_CURRENTLY_NOT_LOADED",
	ValueErrorWhileLoading:       "VALUE_ERROR_WHILE_LOADING",
	UnknownExceptionWhileLoading: "UNKNOWN_EXCEPTION_WHILE_LOADING",
	CodecFail:                    "CODEC_FAIL",
	CustomServiceError:           "CUSTOM_SERVICE_ERROR",
	UnknownException:             "UNKNOWN_EXCEPTION",
}

// String renders the taxonomy name for a Code, falling back to its integer
// value for anything outside the closed set (should not happen in practice).
func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("CODE_%d", int(c))
}

// Error is the single failure type used across every layer below the worker
// loop. It carries a stable code plus a human-readable message; the worker
// loop's dispatch boundary is the only place that catches one of these and
// turns it into a response frame.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewError constructs a protocol Error with a formatted message.
func NewError(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}
