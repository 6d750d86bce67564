package domain

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// JSONRPCVersion is written on every outbound request.
const JSONRPCVersion = "2.0"

// MessageKind identifies the JSON-RPC shape of a decoded frame.
type MessageKind int

const (
	KindUnrecognized MessageKind = iota
	KindRequest
	KindResponse
	KindResponseError
	KindNotification
	KindBatch
)

func (k MessageKind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindResponse:
		return "response"
	case KindResponseError:
		return "response_error"
	case KindNotification:
		return "notification"
	case KindBatch:
		return "batch"
	default:
		return "unrecognized"
	}
}

// Message is a decoded frame. The concrete type is one of *Request,
// *Response, *ResponseError, *Notification, *Batch or *Unrecognized.
type Message interface {
	Kind() MessageKind
}

// Request is a call carrying an id. Outbound requests always use numeric ids.
type Request struct {
	JSONRPC string          `json:"jsonrpc,omitempty"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// NewRequest builds an outbound request with a numeric id.
func NewRequest(id uint64, method string, params json.RawMessage) *Request {
	return &Request{
		JSONRPC: JSONRPCVersion,
		ID:      json.RawMessage(strconv.FormatUint(id, 10)),
		Method:  method,
		Params:  params,
	}
}

// Kind implements Message.
func (*Request) Kind() MessageKind { return KindRequest }

// Response is a successful reply to a request.
type Response struct {
	ID     json.RawMessage `json:"id"`
	Result json.RawMessage `json:"result"`
}

// Kind implements Message.
func (*Response) Kind() MessageKind { return KindResponse }

// ResponseError is a reply carrying an error object instead of a result.
type ResponseError struct {
	ID    json.RawMessage `json:"id"`
	Error RPCError        `json:"error"`
}

// Kind implements Message.
func (*ResponseError) Kind() MessageKind { return KindResponseError }

// Notification is an id-less message pushed by the server.
type Notification struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Kind implements Message.
func (*Notification) Kind() MessageKind { return KindNotification }

// Batch is an ordered sequence of messages received as one top-level array.
type Batch struct {
	Messages []Message
}

// Kind implements Message.
func (*Batch) Kind() MessageKind { return KindBatch }

// Unrecognized is any well-formed JSON value with no JSON-RPC shape.
type Unrecognized struct {
	Raw json.RawMessage
}

// Kind implements Message.
func (*Unrecognized) Kind() MessageKind { return KindUnrecognized }

// NumericID parses a response id into the numeric form used for requests.
// Quoted decimal ids are accepted since some servers echo ids as strings.
func NumericID(raw json.RawMessage) (uint64, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, false
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, false
		}
		raw = []byte(s)
	}
	id, err := strconv.ParseUint(string(raw), 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}
