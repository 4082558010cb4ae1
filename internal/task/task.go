// Package task models the build tasks that consume the Helm executable and runs them incrementally.
package task

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"sync"

	"github.com/cespare/xxhash/v2"
)

var (
	ErrDuplicateTask = errors.New("task already registered")
	ErrNoCommand     = errors.New("task has no command")
)

type Kind string

const (
	KindTest  Kind = "test"
	KindOther Kind = "other"
)

type Task struct {
	Name    string
	Kind    Kind
	Command string
	Args    []string
	// Env entries are of the form KEY=VALUE and are added to the environment of the running
	// process.
	Env []string
	Dir string

	mu        sync.Mutex
	providers []ArgumentProvider
}

func (t *Task) AddArgumentProvider(p ArgumentProvider) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.providers = append(t.providers, p)
}

func (t *Task) argumentProviders() []ArgumentProvider {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]ArgumentProvider(nil), t.providers...)
}

// CommandLine resolves every argument provider and returns the full command line.
func (t *Task) CommandLine(ctx context.Context) ([]string, error) {
	if t.Command == "" {
		return nil, fmt.Errorf("%w: %s", ErrNoCommand, t.Name)
	}

	cmdline := append([]string{t.Command}, t.Args...)
	for _, p := range t.argumentProviders() {
		args, err := p.Arguments(ctx)
		if err != nil {
			return nil, err
		}
		cmdline = append(cmdline, args...)
	}
	return cmdline, nil
}

// InputFiles lists the files tracked by the task's argument providers.
func (t *Task) InputFiles(ctx context.Context) ([]string, error) {
	var files []string
	for _, p := range t.argumentProviders() {
		f, err := p.InputFiles(ctx)
		if err != nil {
			return nil, err
		}
		files = append(files, f...)
	}
	return files, nil
}

// Fingerprint hashes everything that determines the outcome of the task: its name, command, static
// arguments and environment, the inputs of its argument providers and the content of its input
// files. The location of input files, and hence the provider arguments that embed them, is not part
// of the fingerprint.
func (t *Task) Fingerprint(ctx context.Context) (string, error) {
	h := xxhash.New()
	write := func(s string) {
		_, _ = h.WriteString(s)
		_, _ = h.Write([]byte{0})
	}

	write(t.Name)
	write(string(t.Kind))
	write(t.Command)
	for _, a := range t.Args {
		write(a)
	}
	write("")
	for _, e := range t.Env {
		write(e)
	}
	write("")
	for _, p := range t.argumentProviders() {
		for _, in := range p.Inputs() {
			write(in)
		}
		write("")
	}

	files, err := t.InputFiles(ctx)
	if err != nil {
		return "", err
	}
	for _, f := range files {
		sum, err := contentHash(f)
		if err != nil {
			return "", fmt.Errorf("failed to fingerprint input of task %s: %w", t.Name, err)
		}
		write(sum)
	}
	return fmt.Sprintf("%016x", h.Sum64()), nil
}

func contentHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	h := xxhash.New()
	if _, err = io.Copy(h, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("%016x", h.Sum64()), nil
}

// Container holds the tasks of a build. Configuration actions registered with ConfigureEach apply
// to matching tasks whether they were registered before or after the action.
type Container struct {
	mu      sync.Mutex
	tasks   []*Task
	byName  map[string]*Task
	actions map[Kind][]func(*Task)
}

func NewContainer() *Container {
	return &Container{
		byName:  map[string]*Task{},
		actions: map[Kind][]func(*Task){},
	}
}

func (c *Container) Register(t *Task) error {
	c.mu.Lock()
	if _, ok := c.byName[t.Name]; ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateTask, t.Name)
	}
	c.tasks = append(c.tasks, t)
	c.byName[t.Name] = t
	actions := slices.Clone(c.actions[t.Kind])
	c.mu.Unlock()

	for _, fn := range actions {
		fn(t)
	}
	return nil
}

func (c *Container) ConfigureEach(kind Kind, fn func(*Task)) {
	c.mu.Lock()
	c.actions[kind] = append(c.actions[kind], fn)
	var existing []*Task
	for _, t := range c.tasks {
		if t.Kind == kind {
			existing = append(existing, t)
		}
	}
	c.mu.Unlock()

	for _, t := range existing {
		fn(t)
	}
}

func (c *Container) Get(name string) (*Task, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.byName[name]
	return t, ok
}

// Tasks returns all tasks in registration order.
func (c *Container) Tasks() []*Task {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Task(nil), c.tasks...)
}
