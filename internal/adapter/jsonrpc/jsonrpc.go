// Package jsonrpc decodes frames into JSON-RPC messages and encodes outbound
// requests for line-delimited transports.
package jsonrpc

import (
	"bytes"
	"encoding/json"
	"fmt"

	"linerpc/internal/domain"
)

// Standard JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Delimiter terminates every outbound frame.
const Delimiter = '\n'

// envelope captures key presence: a RawMessage is nil when the key is absent
// and "null" when the key holds JSON null.
type envelope struct {
	ID     json.RawMessage `json:"id"`
	Method json.RawMessage `json:"method"`
	Params json.RawMessage `json:"params"`
	Result json.RawMessage `json:"result"`
	Error  json.RawMessage `json:"error"`
}

// Classify parses frame as JSON and determines its JSON-RPC shape. A frame
// that is not valid JSON yields a *domain.FrameError. Valid JSON without a
// JSON-RPC shape is returned as *domain.Unrecognized, not as an error.
func Classify(frame []byte) (domain.Message, error) {
	var raw json.RawMessage
	if err := json.Unmarshal(frame, &raw); err != nil {
		return nil, &domain.FrameError{Frame: bytes.Clone(frame), Err: err}
	}
	raw = bytes.TrimSpace(raw)

	switch raw[0] {
	case '[':
		return classifyBatch(raw), nil
	case '{':
		return classifyObject(raw), nil
	default:
		return &domain.Unrecognized{Raw: raw}, nil
	}
}

func classifyBatch(raw json.RawMessage) domain.Message {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return &domain.Unrecognized{Raw: raw}
	}
	batch := &domain.Batch{Messages: make([]domain.Message, 0, len(items))}
	for _, item := range items {
		item = bytes.TrimSpace(item)
		// Batches do not nest.
		if len(item) == 0 || item[0] != '{' {
			batch.Messages = append(batch.Messages, &domain.Unrecognized{Raw: item})
			continue
		}
		batch.Messages = append(batch.Messages, classifyObject(item))
	}
	return batch
}

func classifyObject(raw json.RawMessage) domain.Message {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return &domain.Unrecognized{Raw: raw}
	}

	idPresent := env.ID != nil
	switch {
	case idPresent && !isNull(env.Error):
		return &domain.ResponseError{ID: env.ID, Error: decodeError(env.Error)}
	case idPresent && env.Result != nil:
		return &domain.Response{ID: env.ID, Result: env.Result}
	}

	var method string
	if env.Method == nil || json.Unmarshal(env.Method, &method) != nil {
		return &domain.Unrecognized{Raw: raw}
	}
	if !isNull(env.ID) {
		return &domain.Request{ID: env.ID, Method: method, Params: env.Params}
	}
	return &domain.Notification{Method: method, Params: env.Params}
}

// decodeError accepts the standard {code, message, data} object. Servers
// that send a bare string or another shape get it carried in Message.
func decodeError(raw json.RawMessage) domain.RPCError {
	var rpcErr domain.RPCError
	if err := json.Unmarshal(raw, &rpcErr); err == nil {
		return rpcErr
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return domain.RPCError{Message: text}
	}
	return domain.RPCError{Message: string(raw)}
}

func isNull(raw json.RawMessage) bool {
	return raw == nil || bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// MarshalParams converts caller params into the raw form carried by a
// request. nil becomes an empty positional list; a json.RawMessage is passed
// through after validation.
func MarshalParams(params any) (json.RawMessage, error) {
	switch p := params.(type) {
	case nil:
		return json.RawMessage("[]"), nil
	case json.RawMessage:
		if !json.Valid(p) {
			return nil, domain.NewDomainError("jsonrpc.MarshalParams", domain.ErrInvalidInput, "params are not valid JSON")
		}
		return p, nil
	}
	data, err := json.Marshal(params)
	if err != nil {
		return nil, domain.NewDomainError("jsonrpc.MarshalParams", domain.ErrInvalidInput, err.Error())
	}
	return data, nil
}

// EncodeRequest serializes req as a single frame terminated by the delimiter.
func EncodeRequest(req *domain.Request) ([]byte, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request %s: %w", req.Method, err)
	}
	return append(data, Delimiter), nil
}
