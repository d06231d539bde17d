package scenario

import (
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

type rawSpec struct {
	Name           string      `yaml:"name"`
	Flow           []yaml.Node `yaml:"flow"`
	BeforeScenario nameList    `yaml:"beforeScenario"`
	AfterScenario  nameList    `yaml:"afterScenario"`
	BeforeRequest  nameList    `yaml:"beforeRequest"`
}

// nameList accepts either a single name or a list of names.
type nameList []string

func (n *nameList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var s string
		if err := node.Decode(&s); err != nil {
			return err
		}
		if s != "" {
			*n = nameList{s}
		}
		return nil
	case yaml.SequenceNode:
		var list []string
		if err := node.Decode(&list); err != nil {
			return err
		}
		*n = list
		return nil
	default:
		return fmt.Errorf("line %d: expected a name or a list of names", node.Line)
	}
}

// UnmarshalYAML decodes a scenario document.
func (s *Spec) UnmarshalYAML(node *yaml.Node) error {
	var raw rawSpec
	if err := node.Decode(&raw); err != nil {
		return err
	}
	flow, err := decodeSteps(raw.Flow)
	if err != nil {
		return err
	}
	*s = Spec{
		Name:           raw.Name,
		Flow:           flow,
		BeforeScenario: raw.BeforeScenario,
		AfterScenario:  raw.AfterScenario,
		BeforeRequest:  raw.BeforeRequest,
	}
	return nil
}

// Parse decodes a YAML (or JSON) scenario document.
func Parse(data []byte) (Spec, error) {
	var s Spec
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Spec{}, fmt.Errorf("parse scenario: %w", err)
	}
	return s, nil
}

func decodeSteps(nodes []yaml.Node) ([]Step, error) {
	steps := make([]Step, 0, len(nodes))
	for i := range nodes {
		step, err := decodeStep(&nodes[i])
		if err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}
	return steps, nil
}

// decodeStep picks the step kind from the keys present on the mapping.
func decodeStep(node *yaml.Node) (Step, error) {
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("line %d: a step must be a mapping", node.Line)
	}
	fields := make(map[string]*yaml.Node, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		fields[node.Content[i].Value] = node.Content[i+1]
	}

	switch {
	case fields["loop"] != nil:
		return decodeLoop(fields)
	case fields["think"] != nil:
		var d any
		if err := fields["think"].Decode(&d); err != nil {
			return nil, err
		}
		return Think{Duration: d}, nil
	case fields["log"] != nil:
		var tmpl any
		if err := fields["log"].Decode(&tmpl); err != nil {
			return nil, err
		}
		return Log{Template: tmpl}, nil
	case fields["function"] != nil:
		var name string
		if err := fields["function"].Decode(&name); err != nil {
			return nil, err
		}
		return Function{Name: name}, nil
	case fields["publish"] != nil:
		return decodePublish(fields["publish"])
	default:
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return Unknown{Keys: keys}, nil
	}
}

func decodeLoop(fields map[string]*yaml.Node) (Step, error) {
	loopNode := fields["loop"]
	if loopNode.Kind != yaml.SequenceNode {
		return nil, fmt.Errorf("line %d: loop must be a list of steps", loopNode.Line)
	}
	inner := make([]yaml.Node, len(loopNode.Content))
	for i, n := range loopNode.Content {
		inner[i] = *n
	}
	steps, err := decodeSteps(inner)
	if err != nil {
		return nil, err
	}

	loop := Loop{Steps: steps}
	if n := fields["count"]; n != nil {
		var count int
		if err := n.Decode(&count); err != nil {
			return nil, fmt.Errorf("line %d: loop count: %w", n.Line, err)
		}
		loop.Count = &count
	}
	if n := fields["over"]; n != nil {
		if err := n.Decode(&loop.Over); err != nil {
			return nil, err
		}
	}
	if n := fields["loopValue"]; n != nil {
		if err := n.Decode(&loop.LoopValue); err != nil {
			return nil, err
		}
	}
	if n := fields["whileTrue"]; n != nil {
		if err := n.Decode(&loop.WhileTrue); err != nil {
			return nil, err
		}
	}
	return loop, nil
}

type rawPublish struct {
	Topic         string         `yaml:"topic"`
	Payload       any            `yaml:"payload"`
	Options       map[string]any `yaml:"options"`
	BeforeRequest nameList       `yaml:"beforeRequest"`
	Acknowledge   yaml.Node      `yaml:"acknowledge"`
}

type rawAcknowledge struct {
	Timeout any        `yaml:"timeout"`
	Method  string     `yaml:"method"`
	Capture captureSet `yaml:"capture"`
	Match   matchSet   `yaml:"match"`
}

// captureSet and matchSet accept a single entry or a list.
type captureSet []Capture

func (c *captureSet) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.MappingNode {
		var one Capture
		if err := node.Decode(&one); err != nil {
			return err
		}
		*c = captureSet{one}
		return nil
	}
	var list []Capture
	if err := node.Decode(&list); err != nil {
		return err
	}
	*c = list
	return nil
}

type matchSet []Match

func (m *matchSet) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.MappingNode {
		var one Match
		if err := node.Decode(&one); err != nil {
			return err
		}
		*m = matchSet{one}
		return nil
	}
	var list []Match
	if err := node.Decode(&list); err != nil {
		return err
	}
	*m = list
	return nil
}

func decodePublish(node *yaml.Node) (Step, error) {
	var raw rawPublish
	if err := node.Decode(&raw); err != nil {
		return nil, err
	}
	pub := Publish{
		Topic:         raw.Topic,
		Payload:       raw.Payload,
		Options:       raw.Options,
		BeforeRequest: raw.BeforeRequest,
	}
	if raw.Acknowledge.Kind == 0 {
		return pub, nil
	}

	// acknowledge: true waits for any response with default settings.
	if raw.Acknowledge.Kind == yaml.ScalarNode {
		var enabled bool
		if err := raw.Acknowledge.Decode(&enabled); err != nil {
			return nil, fmt.Errorf("line %d: acknowledge must be a mapping or a boolean", raw.Acknowledge.Line)
		}
		if enabled {
			pub.Acknowledge = &Acknowledge{}
		}
		return pub, nil
	}

	var ack rawAcknowledge
	if err := raw.Acknowledge.Decode(&ack); err != nil {
		return nil, err
	}
	pub.Acknowledge = &Acknowledge{
		Timeout: ack.Timeout,
		Method:  ack.Method,
		Capture: ack.Capture,
		Match:   ack.Match,
	}
	// data: null is a literal expectation of null, so presence is what counts.
	for i := 0; i+1 < len(raw.Acknowledge.Content); i += 2 {
		if raw.Acknowledge.Content[i].Value != "data" {
			continue
		}
		if err := raw.Acknowledge.Content[i+1].Decode(&pub.Acknowledge.Data); err != nil {
			return nil, err
		}
		pub.Acknowledge.HasData = true
	}
	return pub, nil
}
