package testsupport

import (
	"context"
	"sync"

	"lacquer/internal/toolrun"
)

// ScriptedRunner records every invocation and answers them through a
// caller-supplied script function, so stage and pipeline tests can simulate
// external tool behavior deterministically.
type ScriptedRunner struct {
	mu     sync.Mutex
	calls  []toolrun.Invocation
	Script func(inv toolrun.Invocation) (toolrun.Result, error)
}

// NewScriptedRunner builds a runner that succeeds with empty output unless a
// script overrides the response.
func NewScriptedRunner(script func(inv toolrun.Invocation) (toolrun.Result, error)) *ScriptedRunner {
	return &ScriptedRunner{Script: script}
}

func (r *ScriptedRunner) Run(ctx context.Context, inv toolrun.Invocation) (toolrun.Result, error) {
	if err := ctx.Err(); err != nil {
		return toolrun.Result{}, err
	}
	r.mu.Lock()
	r.calls = append(r.calls, inv)
	r.mu.Unlock()
	if r.Script != nil {
		return r.Script(inv)
	}
	return toolrun.Result{}, nil
}

// Calls returns a copy of the recorded invocations.
func (r *ScriptedRunner) Calls() []toolrun.Invocation {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]toolrun.Invocation, len(r.calls))
	copy(out, r.calls)
	return out
}

// CallsFor returns recorded invocations whose argv mentions every given token,
// matching against the binary name and arguments.
func (r *ScriptedRunner) CallsFor(tokens ...string) []toolrun.Invocation {
	var out []toolrun.Invocation
	for _, inv := range r.Calls() {
		if invocationMatches(inv, tokens) {
			out = append(out, inv)
		}
	}
	return out
}

func invocationMatches(inv toolrun.Invocation, tokens []string) bool {
	argv := append([]string{inv.Binary}, inv.Args...)
	for _, token := range tokens {
		found := false
		for _, arg := range argv {
			if arg == token {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
