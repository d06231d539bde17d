// Package scenario is the declarative model a scenario file decodes into.
// Steps form a closed set: every step is one of the types in this file.
package scenario

// Spec is a complete scenario.
type Spec struct {
	Name string
	Flow []Step

	// BeforeScenario and AfterScenario name functions run before and after
	// the flow. BeforeRequest hooks run ahead of every publish's own hooks.
	BeforeScenario []string
	AfterScenario  []string
	BeforeRequest  []string
}

// Step is implemented only by the step types of this package.
type Step interface {
	Kind() string
	sealed()
}

// Loop repeats Steps. Over takes precedence over Count; a loop with neither
// runs until WhileTrue turns false.
type Loop struct {
	Steps []Step
	// Count is the number of iterations. Nil or negative means unbounded.
	Count *int
	// Over is either a list or a template rendering to one.
	Over any
	// LoopValue names the variable bound to the current element or index.
	LoopValue string
	WhileTrue string
}

// Think pauses the virtual user. Numbers are seconds, strings are
// Go durations or numeric seconds, both may be templated.
type Think struct {
	Duration any
}

// Log writes a rendered template.
type Log struct {
	Template any
}

// Function calls a registered function.
type Function struct {
	Name string
}

// Publish sends Payload to Topic. With Acknowledge set the payload is wrapped
// in a request frame and the step waits for the matching response.
type Publish struct {
	Topic         string
	Payload       any
	Options       map[string]any
	BeforeRequest []string
	Acknowledge   *Acknowledge
}

// Acknowledge describes the response a publish waits for.
type Acknowledge struct {
	// Timeout overrides the configured acknowledge timeout.
	Timeout any
	Method  string
	// Data, when HasData is set, must deep-equal the response body.
	Data    any
	HasData bool
	Capture []Capture
	Match   []Match
}

type Capture struct {
	JSON string `yaml:"json"`
	As   string `yaml:"as"`
}

type Match struct {
	JSON  string `yaml:"json"`
	Value any    `yaml:"value"`
}

// Unknown is a step whose keys matched no known kind. It compiles to a no-op.
type Unknown struct {
	Keys []string
}

func (Loop) Kind() string     { return "loop" }
func (Think) Kind() string    { return "think" }
func (Log) Kind() string      { return "log" }
func (Function) Kind() string { return "function" }
func (Publish) Kind() string  { return "publish" }
func (Unknown) Kind() string  { return "unknown" }

func (Loop) sealed()     {}
func (Think) sealed()    {}
func (Log) sealed()      {}
func (Function) sealed() {}
func (Publish) sealed()  {}
func (Unknown) sealed()  {}

// IntPtr is a helper for Loop.Count literals.
func IntPtr(n int) *int {
	return &n
}
