package correlation

import (
	"bytes"
	"fmt"

	"github.com/tidwall/gjson"

	errspkg "github.com/drblury/vuflow/internal/runtime/errors"
	"github.com/drblury/vuflow/internal/runtime/jsoncodec"
)

const (
	// RequestMarker prefixes an acknowledge-style request frame.
	RequestMarker = "40"
	// ResponseMarker prefixes the responder's acknowledge frame.
	ResponseMarker = "41"

	separator = '|'
)

// Request is the outbound frame body: "40|" + {"id","m","p"}.
type Request struct {
	ID     string `json:"id"`
	Method string `json:"m"`
	Params any    `json:"p"`
}

// Response is a decoded "41|" + {"id","p":[err,[result...]]} frame.
type Response struct {
	ID      string
	Err     any
	Results []any
}

// EncodeRequest builds the outbound acknowledge frame.
func EncodeRequest(id, method string, params any) ([]byte, error) {
	return encodeFrame(RequestMarker, Request{ID: id, Method: method, Params: params})
}

// EncodeResponse builds a responder frame. Responders and tests use it.
func EncodeResponse(id string, errSlot any, results ...any) ([]byte, error) {
	if results == nil {
		results = []any{}
	}
	return encodeFrame(ResponseMarker, map[string]any{
		"id": id,
		"p":  []any{errSlot, results},
	})
}

func encodeFrame(marker string, body any) ([]byte, error) {
	data, err := jsoncodec.Marshal(body)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(marker)+1+len(data))
	out = append(out, marker...)
	out = append(out, separator)
	return append(out, data...), nil
}

// splitFrame returns the marker and JSON body of a frame. ok is false when
// the payload carries no marker at all.
func splitFrame(raw []byte) (marker string, body []byte, ok bool) {
	idx := bytes.IndexByte(raw, separator)
	if idx <= 0 {
		return "", nil, false
	}
	return string(raw[:idx]), raw[idx+1:], true
}

// IsResponse reports whether raw carries the responder marker.
func IsResponse(raw []byte) bool {
	marker, _, ok := splitFrame(raw)
	return ok && marker == ResponseMarker
}

// DecodeRequest parses an outbound frame. ok is false for any other frame kind.
func DecodeRequest(raw []byte) (Request, bool, error) {
	marker, body, ok := splitFrame(raw)
	if !ok || marker != RequestMarker {
		return Request{}, false, nil
	}
	if !gjson.ValidBytes(body) {
		return Request{}, true, fmt.Errorf("%w: request body is not JSON", errspkg.ErrMalformedFrame)
	}
	parsed := gjson.ParseBytes(body)
	id := parsed.Get("id")
	if !id.Exists() {
		return Request{}, true, fmt.Errorf("%w: request has no id", errspkg.ErrMalformedFrame)
	}
	req := Request{ID: id.String(), Method: parsed.Get("m").String()}
	if p := parsed.Get("p"); p.Exists() {
		if err := jsoncodec.Unmarshal([]byte(p.Raw), &req.Params); err != nil {
			return Request{}, true, fmt.Errorf("%w: %v", errspkg.ErrMalformedFrame, err)
		}
	}
	return req, true, nil
}

// DecodeResponse parses a responder frame. ok is false for frames without
// the responder marker; those are not acknowledge responses and carry no error.
// Numeric ids are returned in their decimal form, so 7 and "7" are the same id.
func DecodeResponse(raw []byte) (Response, bool, error) {
	marker, body, ok := splitFrame(raw)
	if !ok || marker != ResponseMarker {
		return Response{}, false, nil
	}
	if !gjson.ValidBytes(body) {
		return Response{}, true, fmt.Errorf("%w: response body is not JSON", errspkg.ErrMalformedFrame)
	}

	parsed := gjson.ParseBytes(body)
	id := parsed.Get("id")
	if !id.Exists() || id.String() == "" {
		return Response{}, true, fmt.Errorf("%w: response has no id", errspkg.ErrMalformedFrame)
	}
	resp := Response{ID: id.String()}

	p := parsed.Get("p")
	if !p.Exists() {
		return resp, true, nil
	}
	if !p.IsArray() {
		return Response{}, true, fmt.Errorf("%w: p must be an array", errspkg.ErrMalformedFrame)
	}
	if errSlot := p.Get("0"); errSlot.Exists() && errSlot.Type != gjson.Null {
		if err := jsoncodec.Unmarshal([]byte(errSlot.Raw), &resp.Err); err != nil {
			return Response{}, true, fmt.Errorf("%w: %v", errspkg.ErrMalformedFrame, err)
		}
	}
	if results := p.Get("1"); results.Exists() && results.Type != gjson.Null {
		if !results.IsArray() {
			return Response{}, true, fmt.Errorf("%w: result slot must be an array", errspkg.ErrMalformedFrame)
		}
		if err := jsoncodec.Unmarshal([]byte(results.Raw), &resp.Results); err != nil {
			return Response{}, true, fmt.Errorf("%w: %v", errspkg.ErrMalformedFrame, err)
		}
	}
	return resp, true, nil
}

// Body is the value validated and captured against: the single result when
// exactly one was returned, otherwise the whole result list.
func (r Response) Body() any {
	if len(r.Results) == 1 {
		return r.Results[0]
	}
	if r.Results == nil {
		return []any{}
	}
	return r.Results
}

// MetadataReplyTo is the message metadata key carrying the topic a responder
// should publish the acknowledge frame to.
const MetadataReplyTo = "vuflow_reply_to"
