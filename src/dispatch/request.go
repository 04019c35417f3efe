package dispatch

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Message is one inbound transport message
type Message struct {
	Topic   string
	Payload []byte
}

// Request holds the decoded payload fields. Absent fields stay nil.
type Request struct {
	RequestID    *string `json:"requestId"`
	CellPosition *int    `json:"cellPosition"`
	State        *bool   `json:"state"`
}

// decodeRequest parses payload and checks the fields route requires.
// Getters accept an empty payload.
func decodeRequest(route Route, payload []byte) (Request, error) {
	var req Request

	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) > 0 {
		if trimmed[0] != '{' {
			return req, &DecodeError{Reason: "payload must be a JSON object"}
		}
		if err := json.Unmarshal(trimmed, &req); err != nil {
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &typeErr) {
				return req, &DecodeError{
					Field:  typeErr.Field,
					Reason: fmt.Sprintf("expected %s, got JSON %s", typeErr.Type, typeErr.Value),
				}
			}
			return req, &DecodeError{Reason: "malformed JSON: " + err.Error()}
		}
	}

	if route.IsCommand() {
		if req.RequestID == nil {
			return req, &DecodeError{Field: "requestId", Reason: "required"}
		}
		if req.State == nil {
			return req, &DecodeError{Field: "state", Reason: "required"}
		}
	}
	if route.Access == AccessGet && route.Kind == KindIndexed && req.CellPosition == nil {
		return req, &DecodeError{Field: "cellPosition", Reason: "required"}
	}
	return req, nil
}

// peekRequestID pulls a string requestId out of a payload that failed full
// decoding, so the failure response can still be correlated
func peekRequestID(payload []byte) *string {
	var probe struct {
		RequestID json.RawMessage `json:"requestId"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil || len(probe.RequestID) == 0 {
		return nil
	}
	var id string
	if err := json.Unmarshal(probe.RequestID, &id); err != nil {
		return nil
	}
	return &id
}
