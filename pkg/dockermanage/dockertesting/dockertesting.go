// Package dockertesting provides an in-memory container runtime for tests that exercise
// dockermanage without a docker daemon.
package dockertesting

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/pressly/ephemeraldb/pkg/dockermanage"
	"github.com/stretchr/testify/require"
)

// Runtime is a fake container runtime. It understands the run, inspect, rm and ps sub-commands
// issued by dockermanage.Manager and keeps containers in memory.
//
// The zero value is ready to use: containers report their target status on the first inspect.
type Runtime struct {
	// RunErr, when set, is returned by "run". The container is still registered when CreateOnRunErr
	// is true, the way docker leaves a created container behind when start fails.
	RunErr         error
	CreateOnRunErr bool
	// ReadyAfter is the number of inspect calls that report a not-ready status before the
	// container turns ready.
	ReadyAfter int
	// NeverReady keeps every container in the "starting" status.
	NeverReady bool
	// RemoveErr, when set, is returned by "rm" and the container is kept.
	RemoveErr error

	mu         sync.Mutex
	containers map[string]*container
	removals   map[string]int
	calls      [][]string
}

type container struct {
	args    []string
	healthy bool
	polls   int
}

var _ dockermanage.Runner = (*Runtime)(nil)

// Run implements dockermanage.Runner.
func (r *Runtime) Run(ctx context.Context, args ...string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.containers == nil {
		r.containers = make(map[string]*container)
		r.removals = make(map[string]int)
	}
	r.calls = append(r.calls, slices.Clone(args))
	if len(args) == 0 {
		return "", errors.New("dockertesting: no command")
	}
	switch args[0] {
	case "run":
		return r.run(args[1:])
	case "inspect":
		return r.inspect(args[1:])
	case "rm":
		return r.remove(args[1:])
	case "ps":
		return r.list(args[1:])
	}
	return "", exitError(args, "unknown command "+args[0])
}

func (r *Runtime) run(args []string) (string, error) {
	name := valueAfter(args, "--name")
	if name == "" {
		return "", exitError(args, "missing --name")
	}
	if _, ok := r.containers[name]; ok {
		return "", exitError(args, "Conflict. The container name \"/"+name+"\" is already in use")
	}
	c := &container{args: slices.Clone(args)}
	for _, a := range args {
		if strings.HasPrefix(a, "--health-cmd=") {
			c.healthy = true
		}
	}
	if r.RunErr != nil {
		if r.CreateOnRunErr {
			r.containers[name] = c
		}
		return "", r.RunErr
	}
	r.containers[name] = c
	return name + "\n", nil
}

func (r *Runtime) inspect(args []string) (string, error) {
	name := args[len(args)-1]
	c, ok := r.containers[name]
	if !ok {
		return "", exitError(args, "Error: No such object: "+name)
	}
	format := valueAfter(args, "--format")
	c.polls++
	if r.NeverReady || c.polls <= r.ReadyAfter {
		if strings.Contains(format, "Health") {
			return "starting\n", nil
		}
		return "created\n", nil
	}
	if strings.Contains(format, "Health") {
		if !c.healthy {
			return "", exitError(args, "template parsing error: map has no entry for key \"Health\"")
		}
		return "healthy\n", nil
	}
	return "running\n", nil
}

func (r *Runtime) remove(args []string) (string, error) {
	name := args[len(args)-1]
	if r.RemoveErr != nil {
		return "", r.RemoveErr
	}
	if _, ok := r.containers[name]; !ok {
		return "", exitError(args, "Error response from daemon: No such container: "+name)
	}
	delete(r.containers, name)
	r.removals[name]++
	return name + "\n", nil
}

func (r *Runtime) list(args []string) (string, error) {
	filter := strings.TrimPrefix(valueAfter(args, "--filter"), "name=")
	filter = strings.TrimSuffix(strings.TrimPrefix(filter, "^"), "$")
	var b strings.Builder
	for name := range r.containers {
		if filter == "" || name == filter {
			b.WriteString(name + "\n")
		}
	}
	return b.String(), nil
}

// Calls returns every command received so far, without the binary name.
func (r *Runtime) Calls() [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.calls)
}

// CallsTo returns the commands whose sub-command is cmd, for example "rm".
func (r *Runtime) CallsTo(cmd string) [][]string {
	var out [][]string
	for _, c := range r.Calls() {
		if len(c) > 0 && c[0] == cmd {
			out = append(out, c)
		}
	}
	return out
}

// Running returns the names of containers that were started and not removed.
func (r *Runtime) Running() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.containers))
	for name := range r.containers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Removals returns how many times the container was actually removed.
func (r *Runtime) Removals(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removals[name]
}

// RunArgs returns the "docker run" arguments used for the container.
func (r *Runtime) RunArgs(name string) []string {
	for _, c := range r.CallsTo("run") {
		if valueAfter(c[1:], "--name") == name {
			return c[1:]
		}
	}
	return nil
}

// RequireRemovedOnce asserts that the container was removed exactly once and is gone.
func RequireRemovedOnce(t testing.TB, r *Runtime, name string) {
	t.Helper()
	require.NotEmpty(t, name, "container name must be known")
	require.Equal(t, 1, r.Removals(name), "container %s removals", name)
	require.NotContains(t, r.Running(), name)
}

func valueAfter(args []string, flag string) string {
	for i, a := range args {
		if a == flag && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

func exitError(args []string, stderr string) error {
	return &dockermanage.CommandError{
		Args:     append([]string{"docker"}, args...),
		ExitCode: 1,
		Stderr:   stderr + "\n",
	}
}
