package vuflow

import (
	"context"
	"fmt"
	"io"

	compilerpkg "github.com/drblury/vuflow/internal/runtime/compiler"
	configpkg "github.com/drblury/vuflow/internal/runtime/config"
	correlationpkg "github.com/drblury/vuflow/internal/runtime/correlation"
	errspkg "github.com/drblury/vuflow/internal/runtime/errors"
	eventspkg "github.com/drblury/vuflow/internal/runtime/events"
	loggingpkg "github.com/drblury/vuflow/internal/runtime/logging"
	processorspkg "github.com/drblury/vuflow/internal/runtime/processors"
	responderpkg "github.com/drblury/vuflow/internal/runtime/responder"
	runnerpkg "github.com/drblury/vuflow/internal/runtime/runner"
	scenariopkg "github.com/drblury/vuflow/internal/runtime/scenario"
	vupkg "github.com/drblury/vuflow/internal/runtime/vu"
	"github.com/drblury/vuflow/transport"
	_ "github.com/drblury/vuflow/transport/transports"
)

type (
	Config   = configpkg.Config
	Auth     = configpkg.Auth
	Document = configpkg.Document

	Scenario = scenariopkg.Spec
	Step     = scenariopkg.Step

	Pipeline        = compilerpkg.Pipeline
	CompileOptions  = compilerpkg.Options
	Registry        = processorspkg.Registry
	Request         = processorspkg.Request
	Function        = processorspkg.Function
	Hook            = processorspkg.Hook
	Predicate       = processorspkg.Predicate
	VirtualUser     = vupkg.Context
	Runner          = runnerpkg.Runner
	RunDependencies = runnerpkg.Dependencies
	Summary         = runnerpkg.Summary
	Result          = runnerpkg.Result

	Event     = eventspkg.Event
	EventKind = eventspkg.Kind
	Sink      = eventspkg.Sink
	SinkFunc  = eventspkg.SinkFunc
	Recorder  = eventspkg.Recorder
	Snapshot  = eventspkg.Snapshot

	Responder        = responderpkg.Responder
	ResponderHandler = responderpkg.Handler
	AckRequest       = correlationpkg.Request

	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger

	ConnectionError          = errspkg.ConnectionError
	PublishError             = errspkg.PublishError
	AcknowledgeTimeoutError  = errspkg.AcknowledgeTimeoutError
	AckRejectedError         = errspkg.AckRejectedError
	DataMismatchError        = errspkg.DataMismatchError
	MatchFailureError        = errspkg.MatchFailureError
	HookError                = errspkg.HookError
	ProcessorNotFoundWarning = errspkg.ProcessorNotFoundWarning
	ConfigValidationError    = errspkg.ConfigValidationError
)

var (
	Load           = configpkg.Load
	Parse          = configpkg.Parse
	ValidateConfig = configpkg.ValidateConfig

	NewRegistry      = processorspkg.NewRegistry
	RegisterBuiltins = processorspkg.RegisterBuiltins
	Compile          = compilerpkg.Compile
	NewRunner        = runnerpkg.New

	NewRecorder       = eventspkg.NewRecorder
	NewCollector      = eventspkg.NewCollector
	NewLogSink        = eventspkg.NewLogSink
	NewPrometheusSink = eventspkg.NewPrometheusSink
	MultiSink         = eventspkg.Multi

	NewResponder = responderpkg.New
	Echo         = responderpkg.Echo

	NewLogger            = loggingpkg.New
	NewSlogServiceLogger = loggingpkg.NewSlogServiceLogger
	NewNopServiceLogger  = loggingpkg.NewNopServiceLogger

	TransportNames = transport.Names
	IsWarning      = errspkg.IsWarning
)

var (
	ErrUnboundedLoop     = errspkg.ErrUnboundedLoop
	ErrPredicateNotFound = errspkg.ErrPredicateNotFound
	ErrDuplicateID       = errspkg.ErrDuplicateID
	ErrEngineClosed      = errspkg.ErrEngineClosed
	ErrNotConnected      = errspkg.ErrNotConnected
)

const (
	EventStarted  = eventspkg.KindStarted
	EventError    = eventspkg.KindError
	EventCounter  = eventspkg.KindCounter
	EventRate     = eventspkg.KindRate
	EventMatch    = eventspkg.KindMatch
	EventResponse = eventspkg.KindResponse
)

// RunOptions configure RunDocument. Registry defaults to the builtins and
// Logger to a nop logger.
type RunOptions struct {
	Registry  *Registry
	Sink      Sink
	Logger    ServiceLogger
	LogWriter io.Writer
}

// RunDocument compiles the scenario of doc and runs it for doc.Config.VUs
// virtual users. The summary is returned even when some users failed; the
// error is only set when the scenario does not compile.
func RunDocument(ctx context.Context, doc *Document, opts RunOptions) (Summary, error) {
	if doc == nil {
		return Summary{}, errspkg.ErrConfigRequired
	}
	reg := opts.Registry
	if reg == nil {
		reg = NewRegistry()
		RegisterBuiltins(reg)
	}

	cfg := &doc.Config
	cfg.ApplyDefaults()
	pipeline, err := Compile(doc.Scenario, reg, CompileOptions{
		DefaultThink:  cfg.DefaultThink,
		AckTimeout:    cfg.AckTimeout,
		LoopValueName: cfg.LoopValueName,
		LogWriter:     opts.LogWriter,
		Sink:          opts.Sink,
		Logger:        opts.Logger,
	})
	if err != nil {
		return Summary{}, fmt.Errorf("compile scenario: %w", err)
	}

	return NewRunner(cfg, pipeline, RunDependencies{Sink: opts.Sink, Logger: opts.Logger}).Run(ctx), nil
}
