package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/keyward/internal/model"
)

// TraceSnapshot captures the complete trace for a scenario execution.
type TraceSnapshot struct {
	ScenarioName string
	Trace        []TraceEvent
}

// MarshalCanonical encodes the snapshot as canonical JSON: sorted keys, no
// insignificant whitespace, and empty fields omitted.
func (s TraceSnapshot) MarshalCanonical() ([]byte, error) {
	trace := make(model.Array, len(s.Trace))
	for i, ev := range s.Trace {
		obj := model.Object{
			"step":   model.Int(ev.Step),
			"action": model.String(ev.Action),
		}
		if ev.Member != "" {
			obj["member"] = model.String(ev.Member)
		}
		if ev.Verdict != "" {
			obj["verdict"] = model.String(ev.Verdict)
		}
		if ev.Status != "" {
			obj["status"] = model.String(ev.Status)
		}
		if ev.Error != "" {
			obj["error"] = model.String(ev.Error)
		}
		trace[i] = obj
	}

	return model.MarshalCanonical(model.Object{
		"scenario_name": model.String(s.ScenarioName),
		"trace":         trace,
	})
}

// RunWithGolden executes a scenario and compares the trace against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result's trace against a golden file
// without re-running the scenario.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	data, err := TraceSnapshot{ScenarioName: scenarioName, Trace: result.Trace}.MarshalCanonical()
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)
	return nil
}
