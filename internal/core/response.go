package core

import (
	"bytes"
	"encoding/json"
	"io"
)

// response is a buffered Response used for gateway-generated replies
type response struct {
	statusCode int
	headers    map[string][]string
	body       []byte
}

// NewResponse creates a new response for error cases or simple responses
func NewResponse(statusCode int, body []byte) Response {
	return &response{
		statusCode: statusCode,
		headers:    make(map[string][]string),
		body:       body,
	}
}

// NewJSONResponse encodes v as the response body.
func NewJSONResponse(statusCode int, v any) Response {
	data, err := json.Marshal(v)
	if err != nil {
		return NewResponse(500, []byte(`{"error":"InternalError"}`))
	}
	return &response{
		statusCode: statusCode,
		headers:    map[string][]string{"Content-Type": {"application/json"}},
		body:       data,
	}
}

func (r *response) StatusCode() int              { return r.statusCode }
func (r *response) Headers() map[string][]string { return r.headers }
func (r *response) Body() io.ReadCloser          { return io.NopCloser(bytes.NewReader(r.body)) }
