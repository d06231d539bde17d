// Package jsoncodec is the single JSON entry point of vuflow. Payloads,
// acknowledge envelopes and capture views all go through sonic.
package jsoncodec

import (
	"github.com/bytedance/sonic"
)

var defaultConfig = sonic.ConfigStd

func Marshal(v any) ([]byte, error) {
	return defaultConfig.Marshal(v)
}

func Unmarshal(data []byte, v any) error {
	return defaultConfig.Unmarshal(data, v)
}

// MarshalString is Marshal for callers that need the text form, such as the
// last-body snapshot kept on a virtual user.
func MarshalString(v any) (string, error) {
	return defaultConfig.MarshalToString(v)
}

// Normalize round-trips v through JSON so that values decoded from YAML
// (int, map[string]any) and values decoded from the wire (float64) compare
// equal when they describe the same document.
func Normalize(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	data, err := Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// EncodePayload turns a rendered payload into wire bytes. Strings and byte
// slices are sent verbatim, everything else is JSON encoded.
func EncodePayload(v any) ([]byte, error) {
	switch p := v.(type) {
	case nil:
		return nil, nil
	case []byte:
		return p, nil
	case string:
		return []byte(p), nil
	default:
		return Marshal(v)
	}
}
