package runner

import (
	"context"
	"strings"
	"sync"
)

// Rule matches a command line by requiring every substring in Contains to
// appear, and scripts the Result to return when matched.
type Rule struct {
	Contains []string
	Result   Result
	Err      error
}

func (r Rule) matches(cmdline string) bool {
	for _, needle := range r.Contains {
		if !strings.Contains(cmdline, needle) {
			return false
		}
	}
	return true
}

// Fake is a scripted Runner: it records every invocation and returns the
// first matching Rule's Result, or a zero-value success Result if nothing
// matches.
type Fake struct {
	mu       sync.Mutex
	rules    []Rule
	Commands []string
}

var _ Runner = (*Fake)(nil)

// AddRule appends a matching rule; the first rule whose Contains substrings
// all appear in the joined "program args..." command line wins.
func (f *Fake) AddRule(rule Rule) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = append(f.rules, rule)
}

func (f *Fake) Run(_ context.Context, program string, args ...string) (Result, error) {
	cmdline := program
	if len(args) > 0 {
		cmdline = program + " " + strings.Join(args, " ")
	}

	f.mu.Lock()
	f.Commands = append(f.Commands, cmdline)
	rules := f.rules
	f.mu.Unlock()

	for _, rule := range rules {
		if rule.matches(cmdline) {
			return rule.Result, rule.Err
		}
	}
	return Result{ExitCode: 0}, nil
}

// Invocations returns a copy of every command line recorded so far.
func (f *Fake) Invocations() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.Commands))
	copy(out, f.Commands)
	return out
}
