package task

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidProperty = errors.New("invalid property name")

// ArgumentProvider contributes command-line arguments to a task. Nothing is resolved until the task
// is about to run.
type ArgumentProvider interface {
	Arguments(ctx context.Context) ([]string, error)
	// Inputs are the values, other than input file paths, that shape the arguments.
	Inputs() []string
	// InputFiles are tracked by content only: moving a file without changing it does not make a task
	// out of date.
	InputFiles(ctx context.Context) ([]string, error)
}

// FileSource yields the path of a file on demand.
type FileSource interface {
	Get(ctx context.Context) (string, error)
}

// FileArgumentProvider passes a file as the single-valued property -D<PropertyName>=<path> and
// tracks it as an input of the task.
type FileArgumentProvider struct {
	PropertyName string
	File         FileSource
}

var _ ArgumentProvider = &FileArgumentProvider{}

func (p *FileArgumentProvider) Arguments(ctx context.Context) ([]string, error) {
	if err := validatePropertyName(p.PropertyName); err != nil {
		return nil, err
	}
	path, err := p.File.Get(ctx)
	if err != nil {
		return nil, err
	}
	return []string{"-D" + p.PropertyName + "=" + path}, nil
}

// Inputs is the property name. The path of the file is tracked through InputFiles instead.
func (p *FileArgumentProvider) Inputs() []string {
	return []string{p.PropertyName}
}

func (p *FileArgumentProvider) InputFiles(ctx context.Context) ([]string, error) {
	path, err := p.File.Get(ctx)
	if err != nil {
		return nil, err
	}
	return []string{path}, nil
}

func validatePropertyName(name string) error {
	if name == "" || strings.ContainsAny(name, "= \t\n") {
		return fmt.Errorf("%w: %q", ErrInvalidProperty, name)
	}
	return nil
}
