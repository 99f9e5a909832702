package health

import (
	"fmt"

	"github.com/google/cel-go/cel"
	"gopkg.in/yaml.v3"

	"github.com/gdnd-project/gdnd/pkg/device"
)

// FatalCodePolicy optionally extends plain fatal-code set membership with
// a CEL boolean expression evaluated per fault-log entry. With no policy
// configured, L1's fault-log sub-check uses FatalCodes set membership
// exactly as specified; a policy is strictly additive: an entry is fatal
// when its code is in the set or the expression evaluates to true.
//
// Expression variables available: code (uint), message (string),
// device_index (int).
type FatalCodePolicy struct {
	Expression string `yaml:"expression"`

	program cel.Program
}

// LoadFatalCodePolicy parses a YAML document containing a single
// `expression:` key into a compiled FatalCodePolicy.
func LoadFatalCodePolicy(data []byte) (*FatalCodePolicy, error) {
	var p FatalCodePolicy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse fatal code policy: %w", err)
	}
	if err := p.compile(); err != nil {
		return nil, err
	}
	return &p, nil
}

func (p *FatalCodePolicy) compile() error {
	env, err := cel.NewEnv(
		cel.Variable("code", cel.UintType),
		cel.Variable("message", cel.StringType),
		cel.Variable("device_index", cel.IntType),
	)
	if err != nil {
		return fmt.Errorf("create cel env: %w", err)
	}

	ast, issues := env.Compile(p.Expression)
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("compile fatal code expression: %w", issues.Err())
	}

	program, err := env.Program(ast)
	if err != nil {
		return fmt.Errorf("build cel program: %w", err)
	}
	p.program = program
	return nil
}

// IsFatal evaluates the policy's expression against one fault-log entry.
// A non-boolean result or an evaluation error is treated as non-fatal —
// a misconfigured policy degrades to "classify nothing as fatal", never to
// a crash.
func (p *FatalCodePolicy) IsFatal(entry device.FaultLogEntry) bool {
	if p == nil || p.program == nil {
		return false
	}

	out, _, err := p.program.Eval(map[string]any{
		"code":         uint64(entry.Code),
		"message":      entry.Message,
		"device_index": int64(entry.DeviceIndex),
	})
	if err != nil {
		return false
	}

	fatal, ok := out.Value().(bool)
	return ok && fatal
}
