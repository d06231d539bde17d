package processors

import (
	"context"
	"time"

	"github.com/drblury/vuflow/internal/runtime/events"
	"github.com/drblury/vuflow/internal/runtime/jsoncodec"
	"github.com/drblury/vuflow/internal/runtime/logging"
	"github.com/drblury/vuflow/internal/runtime/vu"
)

// Names of the processors RegisterBuiltins installs.
const (
	BuiltinDumpVars          = "dumpVars"
	BuiltinStampPayload      = "stampPayload"
	BuiltinUntilFirstSuccess = "untilFirstSuccess"
)

// RegisterBuiltins installs the processors every scenario can use:
//
//	dumpVars           function, logs the variable mapping at debug level
//	stampPayload       hook, adds sentAt and vuId to map payloads
//	untilFirstSuccess  predicate, true until an acknowledge passed validation
func RegisterBuiltins(r *Registry) {
	_ = r.RegisterFunction(BuiltinDumpVars, dumpVars)
	_ = r.RegisterHook(BuiltinStampPayload, stampPayload)
	_ = r.RegisterPredicate(BuiltinUntilFirstSuccess, untilFirstSuccess)
}

func dumpVars(_ context.Context, v *vu.Context, _ events.Sink) error {
	raw, err := jsoncodec.MarshalString(v.Vars)
	if err != nil {
		return err
	}
	v.Logger.Debug("Variables", logging.LogFields{"vars": raw})
	return nil
}

func stampPayload(_ context.Context, req *Request, v *vu.Context, _ events.Sink) error {
	payload, ok := req.Payload.(map[string]any)
	if !ok {
		return nil
	}
	stamped := make(map[string]any, len(payload)+2)
	for k, val := range payload {
		stamped[k] = val
	}
	stamped["sentAt"] = time.Now().UTC().Format(time.RFC3339Nano)
	stamped["vuId"] = v.ID
	req.Payload = stamped
	return nil
}

func untilFirstSuccess(_ context.Context, v *vu.Context) (bool, error) {
	return v.Successes == 0, nil
}
