// Package policy compiles approval quorum policies from CUE files.
//
// A policy file declares a top-level "policy" struct:
//
//	policy: {
//		reject_on_any_veto:         true
//		require_unanimous_approval: false
//		threshold:                  2
//	}
//
// Omitted fields take the single-veto, unanimous defaults. Unknown fields are
// rejected because #Policy is closed.
package policy

import (
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/keyward/internal/approval"
)

const schemaSource = `
#Policy: {
	reject_on_any_veto:         *true | bool
	require_unanimous_approval: *true | bool
	threshold:                  *0 | int & >=0
}
`

// Load reads and compiles a CUE policy file.
func Load(path string) (approval.PolicyConfig, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return approval.PolicyConfig{}, fmt.Errorf("read policy file: %w", err)
	}
	return Compile(path, src)
}

// Compile compiles CUE source into a validated PolicyConfig. filename is
// used for error positions only.
func Compile(filename string, src []byte) (approval.PolicyConfig, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaSource, cue.Filename("policy-schema.cue"))
	if err := schema.Err(); err != nil {
		return approval.PolicyConfig{}, formatCUEError(err)
	}

	file := ctx.CompileBytes(src, cue.Filename(filename))
	if err := file.Err(); err != nil {
		return approval.PolicyConfig{}, formatCUEError(err)
	}

	v := file.LookupPath(cue.ParsePath("policy"))
	if !v.Exists() {
		return approval.PolicyConfig{}, &CompileError{
			Field:   "policy",
			Message: "policy is required",
			Pos:     file.Pos(),
		}
	}

	if err := checkFields(v); err != nil {
		return approval.PolicyConfig{}, err
	}

	unified := schema.LookupPath(cue.ParsePath("#Policy")).Unify(v)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return approval.PolicyConfig{}, formatCUEError(err)
	}

	var cfg approval.PolicyConfig
	var err error
	if cfg.RejectOnAnyVeto, err = boolField(unified, "reject_on_any_veto"); err != nil {
		return approval.PolicyConfig{}, err
	}
	if cfg.RequireUnanimousApproval, err = boolField(unified, "require_unanimous_approval"); err != nil {
		return approval.PolicyConfig{}, err
	}
	threshold, err := intField(unified, "threshold")
	if err != nil {
		return approval.PolicyConfig{}, err
	}
	cfg.Threshold = int(threshold)

	if err := cfg.Validate(); err != nil {
		return approval.PolicyConfig{}, &CompileError{
			Field:   "policy",
			Message: err.Error(),
			Pos:     v.Pos(),
		}
	}
	return cfg, nil
}

var knownFields = map[string]bool{
	"reject_on_any_veto":         true,
	"require_unanimous_approval": true,
	"threshold":                  true,
}

func checkFields(v cue.Value) error {
	iter, err := v.Fields()
	if err != nil {
		return formatCUEError(err)
	}
	for iter.Next() {
		label := iter.Selector().String()
		if !knownFields[label] {
			return &CompileError{
				Field:   label,
				Message: "unknown policy field",
				Pos:     iter.Value().Pos(),
			}
		}
	}
	return nil
}

func boolField(v cue.Value, name string) (bool, error) {
	f, _ := v.LookupPath(cue.ParsePath(name)).Default()
	b, err := f.Bool()
	if err != nil {
		return false, formatCUEError(err)
	}
	return b, nil
}

func intField(v cue.Value, name string) (int64, error) {
	f, _ := v.LookupPath(cue.ParsePath(name)).Default()
	n, err := f.Int64()
	if err != nil {
		return 0, formatCUEError(err)
	}
	return n, nil
}

// CompileError represents a policy compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	first := errs[0]
	positions := errors.Positions(first)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: first.Error(),
			Pos:     positions[0],
		}
	}
	return &CompileError{Field: "cue", Message: first.Error()}
}
