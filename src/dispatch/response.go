package dispatch

import "encoding/json"

const (
	StatusOK     = 0
	StatusFailed = 1
)

// Result is the outcome part of every response
type Result struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
}

// Response is published on the reply topic. RequestID is only set for
// commands that carried one.
type Response struct {
	RequestID *string `json:"requestId,omitempty"`
	Result    Result  `json:"result"`
}

// Success builds a status 0 response
func Success(message string) Response {
	return Response{Result: Result{Status: StatusOK, Message: message}}
}

// Failure builds a status 1 response
func Failure(message string) Response {
	return Response{Result: Result{Status: StatusFailed, Message: message}}
}

// WithRequestID echoes a request id; nil leaves the response unchanged
func (r Response) WithRequestID(id *string) Response {
	if id != nil {
		echoed := *id
		r.RequestID = &echoed
	}
	return r
}

// OK reports whether the response is a success
func (r Response) OK() bool {
	return r.Result.Status == StatusOK
}

// Encode returns the JSON payload
func (r Response) Encode() []byte {
	payload, _ := json.Marshal(r)
	return payload
}
