package diagnostics

import (
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/whttlr/cnc-bridge/internal/machine"
)

// sequenceSchema validates diagnostic sequence files before they are
// compiled into executable steps. Validation happens on the decoded YAML
// document, so one schema covers both formats.
const sequenceSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["sequence"],
  "properties": {
    "sequence": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["type", "description"],
        "properties": {
          "type": {"enum": ["jog", "dwell"]},
          "description": {"type": "string", "minLength": 1},
          "axis": {"enum": ["X", "Y", "Z"]},
          "distance": {"type": "number"},
          "feed": {"type": "number", "exclusiveMinimum": 0},
          "tolerance": {"type": "number", "minimum": 0},
          "expect_mode": {"type": "string"},
          "timeout": {"type": "string"},
          "fatal": {"type": "boolean"},
          "rollback": {"type": "boolean"}
        }
      }
    }
  }
}`

type stepSpec struct {
	Type        string  `yaml:"type"`
	Description string  `yaml:"description"`
	Axis        string  `yaml:"axis"`
	Distance    float64 `yaml:"distance"`
	Feed        float64 `yaml:"feed"`
	Tolerance   float64 `yaml:"tolerance"`
	ExpectMode  string  `yaml:"expect_mode"`
	Timeout     string  `yaml:"timeout"`
	Fatal       *bool   `yaml:"fatal"`
	Rollback    *bool   `yaml:"rollback"`
}

type sequenceFile struct {
	Sequence []stepSpec `yaml:"sequence"`
}

// LoadSequence reads, validates and compiles a diagnostic sequence file.
// defaultTimeout applies to steps that do not set their own.
func LoadSequence(path string, defaultTimeout time.Duration) ([]Step, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sequence file: %w", err)
	}

	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse sequence file: %w", err)
	}

	schema := jsonschema.MustCompileString("sequence.json", sequenceSchema)
	if err := schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("invalid sequence file %s: %w", path, err)
	}

	var file sequenceFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse sequence file: %w", err)
	}

	return compileSequence(file.Sequence, defaultTimeout)
}

// DefaultSequence is the built-in movement test used when no sequence file
// is configured: each axis jogs out and back, bracketed by idle checks.
func DefaultSequence(defaultTimeout time.Duration) []Step {
	t := true
	specs := []stepSpec{
		{Type: "dwell", Description: "controller responds and is idle", ExpectMode: "Idle"},
		{Type: "jog", Description: "X axis +2mm", Axis: "X", Distance: 2, Feed: 500},
		{Type: "jog", Description: "X axis -2mm", Axis: "X", Distance: -2, Feed: 500},
		{Type: "jog", Description: "Y axis +2mm", Axis: "Y", Distance: 2, Feed: 500},
		{Type: "jog", Description: "Y axis -2mm", Axis: "Y", Distance: -2, Feed: 500},
		{Type: "jog", Description: "Z axis +1mm", Axis: "Z", Distance: 1, Feed: 200},
		{Type: "jog", Description: "Z axis -1mm", Axis: "Z", Distance: -1, Feed: 200},
		{Type: "dwell", Description: "controller idle after movement", ExpectMode: "Idle", Fatal: &t},
	}
	steps, err := compileSequence(specs, defaultTimeout)
	if err != nil {
		// The built-in sequence is static; a compile failure is a programming error.
		panic(err)
	}
	return steps
}

func compileSequence(specs []stepSpec, defaultTimeout time.Duration) ([]Step, error) {
	steps := make([]Step, 0, len(specs))
	for i, spec := range specs {
		step, err := compileStep(spec, defaultTimeout)
		if err != nil {
			return nil, fmt.Errorf("sequence step %d (%s): %w", i+1, spec.Description, err)
		}
		steps = append(steps, step)
	}
	return steps, nil
}

func compileStep(spec stepSpec, defaultTimeout time.Duration) (Step, error) {
	step := Step{
		Description: spec.Description,
		Timeout:     defaultTimeout,
	}
	if spec.Timeout != "" {
		d, err := time.ParseDuration(spec.Timeout)
		if err != nil {
			return Step{}, fmt.Errorf("invalid timeout: %w", err)
		}
		step.Timeout = d
	}

	switch spec.Type {
	case "jog":
		return compileJogStep(spec, step)
	case "dwell":
		return compileDwellStep(spec, step)
	}
	return Step{}, fmt.Errorf("unknown step type %q", spec.Type)
}

func compileJogStep(spec stepSpec, step Step) (Step, error) {
	axis := strings.ToUpper(spec.Axis)
	if axis != "X" && axis != "Y" && axis != "Z" {
		return Step{}, fmt.Errorf("jog step requires axis X, Y or Z")
	}
	if spec.Distance == 0 {
		return Step{}, fmt.Errorf("jog step requires a non-zero distance")
	}
	feed := spec.Feed
	if feed == 0 {
		feed = 500
	}
	tolerance := spec.Tolerance
	if tolerance == 0 {
		tolerance = 0.1
	}

	step.Command = jogCommand(axis, spec.Distance, feed)
	if spec.Rollback == nil || *spec.Rollback {
		step.Rollback = jogCommand(axis, -spec.Distance, feed)
	}
	// Movement tests abort the run on failure unless explicitly relaxed.
	step.Fatal = spec.Fatal == nil || *spec.Fatal

	distance := spec.Distance
	step.Check = func(before, after *machine.State) error {
		moved := axisValue(after.Position, axis) - axisValue(before.Position, axis)
		if math.Abs(moved-distance) > tolerance {
			return fmt.Errorf("%s axis moved %.3fmm, expected %.3fmm (tolerance %.3fmm)",
				axis, moved, distance, tolerance)
		}
		return nil
	}
	switch axis {
	case "X":
		step.Displacement = machine.Position{X: distance}
	case "Y":
		step.Displacement = machine.Position{Y: distance}
	case "Z":
		step.Displacement = machine.Position{Z: distance}
	}
	return step, nil
}

func compileDwellStep(spec stepSpec, step Step) (Step, error) {
	step.Command = "G4 P0"
	step.Fatal = spec.Fatal != nil && *spec.Fatal
	if spec.ExpectMode != "" {
		want := machine.Mode(spec.ExpectMode)
		step.Check = func(_, after *machine.State) error {
			if after.Mode != want {
				return fmt.Errorf("controller in mode %s, expected %s", after.Mode, want)
			}
			return nil
		}
	}
	return step, nil
}

func jogCommand(axis string, distance, feed float64) string {
	return fmt.Sprintf("$J=G91 G21 %s%.3f F%g", axis, distance, feed)
}

func axisValue(p machine.Position, axis string) float64 {
	switch axis {
	case "X":
		return p.X
	case "Y":
		return p.Y
	}
	return p.Z
}
