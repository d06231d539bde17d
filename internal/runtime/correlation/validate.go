package correlation

import (
	"fmt"

	"github.com/google/go-cmp/cmp"
	"github.com/ohler55/ojg/jp"

	errspkg "github.com/drblury/vuflow/internal/runtime/errors"
	"github.com/drblury/vuflow/internal/runtime/events"
	"github.com/drblury/vuflow/internal/runtime/jsoncodec"
)

// Capture stores the value at a JSONPath into a variable.
type Capture struct {
	JSON string
	As   string
}

// MatchRule asserts that a JSONPath resolves to Value.
type MatchRule struct {
	JSON  string
	Value any
}

// Expectation is what an acknowledge response is checked against.
// A literal Data expectation takes precedence over Captures and Matches.
type Expectation struct {
	Data     any
	HasData  bool
	Captures []Capture
	Matches  []MatchRule
}

// Validate checks body against exp and returns the captured variables.
// Every evaluated expression is reported to sink as a match event.
func Validate(body any, exp Expectation, sink events.Sink) (map[string]any, error) {
	view, err := jsoncodec.Normalize(body)
	if err != nil {
		return nil, fmt.Errorf("normalize acknowledge body: %w", err)
	}

	if exp.HasData {
		want, err := jsoncodec.Normalize(exp.Data)
		if err != nil {
			return nil, fmt.Errorf("normalize expected data: %w", err)
		}
		if diff := cmp.Diff(want, view); diff != "" {
			return nil, errspkg.DataMismatchError{Expected: want, Got: view, Diff: diff}
		}
		return nil, nil
	}

	var (
		captured map[string]any
		firstErr error
	)
	for _, c := range exp.Captures {
		got, found, err := evaluate(c.JSON, view)
		if err != nil {
			return nil, err
		}
		events.Match(sink, found, events.MatchDetail{Expression: c.JSON, Got: got})
		if !found {
			if firstErr == nil {
				firstErr = errspkg.MatchFailureError{Expression: c.JSON, Expected: "a value to capture as " + c.As}
			}
			continue
		}
		if captured == nil {
			captured = make(map[string]any, len(exp.Captures))
		}
		captured[c.As] = got
	}

	for _, m := range exp.Matches {
		got, _, err := evaluate(m.JSON, view)
		if err != nil {
			return nil, err
		}
		want, err := jsoncodec.Normalize(m.Value)
		if err != nil {
			return nil, fmt.Errorf("normalize match value: %w", err)
		}
		ok := cmp.Equal(want, got)
		events.Match(sink, ok, events.MatchDetail{Expression: m.JSON, Expected: want, Got: got})
		if !ok && firstErr == nil {
			firstErr = errspkg.MatchFailureError{Expression: m.JSON, Expected: want, Got: got}
		}
	}

	if firstErr != nil {
		return nil, firstErr
	}
	return captured, nil
}

// evaluate runs a JSONPath expression. A single hit is returned as is,
// several hits as a list.
func evaluate(expr string, data any) (any, bool, error) {
	path, err := jp.ParseString(expr)
	if err != nil {
		return nil, false, fmt.Errorf("invalid JSONPath %q: %w", expr, err)
	}
	results := path.Get(data)
	switch len(results) {
	case 0:
		return nil, false, nil
	case 1:
		return results[0], true, nil
	default:
		return results, true, nil
	}
}
