package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/lyzr/mutwizard/common/engine"
)

// loadPolicy reads policy defaults from a YAML file. Keys left out keep the
// built-in defaults; unknown keys are an error.
//
//	batch_on_failure: skip_and_continue
//	step_on_failure: stop_run
//	refinement:
//	  method: sculpt
//	  cycles: 20
func loadPolicy(path string) (engine.Defaults, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return engine.Defaults{}, fmt.Errorf("failed to read policy file: %w", err)
	}

	d := engine.DefaultPolicy()
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&d); err != nil && !errors.Is(err, io.EOF) {
		return engine.Defaults{}, fmt.Errorf("failed to parse policy file %s: %w", path, err)
	}

	if err := checkPolicy(d); err != nil {
		return engine.Defaults{}, fmt.Errorf("invalid policy file %s: %w", path, err)
	}
	return d, nil
}

func checkPolicy(d engine.Defaults) error {
	for name, p := range map[string]engine.FailurePolicy{
		"batch_on_failure":      d.BatchOnFailure,
		"individual_on_failure": d.IndividualOnFailure,
		"step_on_failure":       d.StepOnFailure,
	} {
		if p != "" && !p.Valid() {
			return fmt.Errorf("%s: unknown failure policy %q", name, p)
		}
	}

	switch d.Refinement.Method {
	case "", engine.RefineDefault:
	case engine.RefineSculpt:
		c := d.Refinement.Cycles
		if c != 0 && (c < engine.MinSculptCycles || c > engine.MaxSculptCycles) {
			return fmt.Errorf("refinement.cycles must be in [%d, %d], got %d", engine.MinSculptCycles, engine.MaxSculptCycles, c)
		}
	default:
		return fmt.Errorf("refinement.method: unknown method %q", d.Refinement.Method)
	}
	return nil
}
