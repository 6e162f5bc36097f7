package qmresults

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/goccy/go-json"
)

// Sentinels for use with errors.Is. Each matches any error of the same
// concrete type anywhere in a chain.
var (
	ErrRpc                   = &RpcError{}
	ErrSchema                = &SchemaError{}
	ErrInvalidRange          = &InvalidRangeError{}
	ErrDataLoss              = &DataLossError{}
	ErrTimeout               = &TimeoutError{}
	ErrInvalidStreamMetadata = &InvalidStreamMetadataError{}
	ErrConnection            = &ConnectionError{}
	ErrDataFetching          = &DataFetchingError{}
	ErrFormat                = &FormatError{}
)

// RpcError is an error reported by the remote service that has no more
// specific mapping on the client.
type RpcError struct {
	Type      string // e.g. "ValueError", "RuntimeError"
	Message   string
	Traceback string
	RequestID string
}

func (e *RpcError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Is supports errors.Is by matching any *RpcError target.
func (e *RpcError) Is(target error) bool {
	_, ok := target.(*RpcError)
	return ok
}

// SchemaError reports a named result missing from the job schema, or a
// schema that does not match what the caller expected.
type SchemaError struct {
	Message string
}

func (e *SchemaError) Error() string { return e.Message }

func (e *SchemaError) Is(target error) bool {
	_, ok := target.(*SchemaError)
	return ok
}

// InvalidRangeError reports a selector that cannot be turned into a
// contiguous item range.
type InvalidRangeError struct {
	Name   string
	Reason string
}

func (e *InvalidRangeError) Error() string {
	return fmt.Sprintf("invalid range for item named '%s': %s", e.Name, e.Reason)
}

func (e *InvalidRangeError) Is(target error) bool {
	_, ok := target.(*InvalidRangeError)
	return ok
}

// DataLossError is returned once the server has flagged dropped items for a
// job. It is never transient.
type DataLossError struct {
	JobID string
}

func (e *DataLossError) Error() string {
	return "Data loss detected in data for job: " + e.JobID
}

func (e *DataLossError) Is(target error) bool {
	_, ok := target.(*DataLossError)
	return ok
}

// TimeoutKind tells a network-call timeout apart from a wait loop that
// never saw its condition.
type TimeoutKind int

const (
	// TimeoutNetwork means the remote call itself did not finish in time.
	TimeoutNetwork TimeoutKind = iota + 1
	// TimeoutWait means a polling loop reached its deadline while the job
	// was still running.
	TimeoutWait
)

func (k TimeoutKind) String() string {
	switch k {
	case TimeoutNetwork:
		return "network"
	case TimeoutWait:
		return "wait"
	default:
		return "unknown"
	}
}

// TimeoutError is returned when a blocking operation exceeds its deadline.
type TimeoutError struct {
	Kind TimeoutKind
	Op   string
	Err  error
}

func (e *TimeoutError) Error() string {
	if e.Kind == TimeoutWait {
		return fmt.Sprintf("%s was not done in time", e.Op)
	}
	return fmt.Sprintf("%s timed out", e.Op)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

func (e *TimeoutError) Is(target error) bool {
	_, ok := target.(*TimeoutError)
	return ok
}

// StreamMetadataError is one problem found while extracting stream metadata
// from the control program.
type StreamMetadataError struct {
	Message  string `json:"error"`
	Location string `json:"location"`
}

func (e StreamMetadataError) String() string {
	return e.Message + " at: " + e.Location
}

// InvalidStreamMetadataError is returned on access to stream metadata when
// extraction recorded errors.
type InvalidStreamMetadataError struct {
	Errors []StreamMetadataError
}

func (e *InvalidStreamMetadataError) Error() string {
	lines := make([]string, len(e.Errors))
	for i, se := range e.Errors {
		lines[i] = se.String()
	}
	return "Error creating stream metadata:\n" + strings.Join(lines, "\n")
}

func (e *InvalidStreamMetadataError) Is(target error) bool {
	_, ok := target.(*InvalidStreamMetadataError)
	return ok
}

// ConnectionError is a transport-level failure. Unimplemented is set when
// the server explicitly reports that it does not offer the call, so callers
// can tell "feature unsupported" from "feature unreachable".
type ConnectionError struct {
	Op            string
	Unimplemented bool
	Err           error
}

func (e *ConnectionError) Error() string {
	if e.Unimplemented {
		return fmt.Sprintf("%s: not implemented by server", e.Op)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

func (e *ConnectionError) Is(target error) bool {
	_, ok := target.(*ConnectionError)
	return ok
}

// DataFetchingError is reported by the server in the middle of a result
// stream.
type DataFetchingError struct {
	Details string
}

func (e *DataFetchingError) Error() string { return "data fetching failed: " + e.Details }

func (e *DataFetchingError) Is(target error) bool {
	_, ok := target.(*DataFetchingError)
	return ok
}

// FormatError reports a malformed binary array.
type FormatError struct {
	Message string
}

func (e *FormatError) Error() string { return "npy format: " + e.Message }

func (e *FormatError) Is(target error) bool {
	_, ok := target.(*FormatError)
	return ok
}

// stackFrame is one frame of a Go stack trace in error batch extras.
type stackFrame struct {
	File     string `json:"file"`
	Line     int    `json:"line"`
	Function string `json:"function"`
}

// errorExtra is the JSON written to qm.log_extra on EXCEPTION batches.
type errorExtra struct {
	ExceptionType    string       `json:"exception_type"`
	ExceptionMessage string       `json:"exception_message"`
	Traceback        string       `json:"traceback,omitempty"`
	Frames           []stackFrame `json:"frames,omitempty"`
}

// exceptionType names err for the wire. Client-side errors map back from
// these names in decodeRemoteError.
func exceptionType(err error) string {
	switch e := err.(type) {
	case *RpcError:
		return e.Type
	case *DataFetchingError:
		return "DataFetchingError"
	case *SchemaError:
		return "SchemaError"
	case *InvalidRangeError:
		return "ValueError"
	case *DataLossError:
		return "DataLossError"
	}
	return fmt.Sprintf("%T", err)
}

// buildErrorExtra creates the qm.log_extra JSON for err. Stack details are
// only included when debug is set.
func buildErrorExtra(err error, debug bool) string {
	extra := errorExtra{
		ExceptionType:    exceptionType(err),
		ExceptionMessage: remoteMessage(err),
	}
	if debug {
		buf := make([]byte, 4096)
		n := runtime.Stack(buf, false)
		extra.Traceback = string(buf[:n])

		pcs := make([]uintptr, 10)
		n = runtime.Callers(2, pcs)
		frames := runtime.CallersFrames(pcs[:n])
		for len(extra.Frames) < 5 {
			frame, more := frames.Next()
			extra.Frames = append(extra.Frames, stackFrame{
				File:     frame.File,
				Line:     frame.Line,
				Function: frame.Function,
			})
			if !more {
				break
			}
		}
	}
	data, _ := json.Marshal(extra)
	return string(data)
}

// remoteMessage is the message carried on the wire. DataFetchingError sends
// only its details so the client can rebuild it without double prefixes.
func remoteMessage(err error) string {
	switch e := err.(type) {
	case *DataFetchingError:
		return e.Details
	case *RpcError:
		return e.Message
	}
	return err.Error()
}

// decodeRemoteError maps an EXCEPTION batch back to a typed error.
func decodeRemoteError(op, message, extraJSON, requestID string) error {
	var extra errorExtra
	if extraJSON != "" {
		_ = json.Unmarshal([]byte(extraJSON), &extra)
	}
	if extra.ExceptionMessage != "" {
		message = extra.ExceptionMessage
	}
	switch extra.ExceptionType {
	case "DataFetchingError":
		return &DataFetchingError{Details: message}
	case "NotImplementedError":
		return &ConnectionError{Op: op, Unimplemented: true, Err: &RpcError{Type: extra.ExceptionType, Message: message}}
	case "SchemaError":
		return &SchemaError{Message: message}
	}
	typ := extra.ExceptionType
	if typ == "" {
		typ = "RemoteError"
	}
	return &RpcError{Type: typ, Message: message, Traceback: extra.Traceback, RequestID: requestID}
}
