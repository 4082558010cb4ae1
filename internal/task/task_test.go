package task

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Helcaraxan/helm-toolchain/internal/coordinate"
	"github.com/Helcaraxan/helm-toolchain/internal/fetch"
	"github.com/Helcaraxan/helm-toolchain/internal/logger"
	"github.com/Helcaraxan/helm-toolchain/internal/platform"
	"github.com/Helcaraxan/helm-toolchain/internal/state"
	"github.com/Helcaraxan/helm-toolchain/internal/toolchain"
)

type staticFile string

func (f staticFile) Get(context.Context) (string, error) { return string(f), nil }

type fetcherFunc func(context.Context, coordinate.Coordinate) (fetch.Archive, error)

func (f fetcherFunc) Fetch(ctx context.Context, c coordinate.Coordinate) (fetch.Archive, error) {
	return f(ctx, c)
}

// newToolchain returns a configuration whose distributions are generated on the fly, and a counter
// of the number of fetches.
func newToolchain(t *testing.T, buildDir string) (*toolchain.Configuration, *atomic.Int32) {
	t.Helper()

	var fetches atomic.Int32
	archives := t.TempDir()
	f := fetcherFunc(func(_ context.Context, c coordinate.Coordinate) (fetch.Archive, error) {
		fetches.Add(1)

		var buf bytes.Buffer
		gw := gzip.NewWriter(&buf)
		tw := tar.NewWriter(gw)
		body := "helm " + c.Version
		if err := tw.WriteHeader(&tar.Header{Name: c.Classifier + "/helm", Mode: 0o755, Size: int64(len(body)), Typeflag: tar.TypeReg}); err != nil {
			return fetch.Archive{}, err
		}
		if _, err := tw.Write([]byte(body)); err != nil {
			return fetch.Archive{}, err
		}
		if err := tw.Close(); err != nil {
			return fetch.Archive{}, err
		}
		if err := gw.Close(); err != nil {
			return fetch.Archive{}, err
		}

		p := filepath.Join(archives, c.FileName())
		if err := os.WriteFile(p, buf.Bytes(), 0o644); err != nil {
			return fetch.Archive{}, err
		}
		return fetch.Archive{Coordinate: c, Path: p, Size: int64(buf.Len())}, nil
	})

	cfg := toolchain.New(
		toolchain.WithFetcher(f),
		toolchain.WithOutputRoot(toolchain.OutputRoot(buildDir)),
		toolchain.WithLogger(logger.NewTestBuilder()),
	)
	require.NoError(t, cfg.SetVersion("3.19.4"))
	require.NoError(t, cfg.SetPlatform(platform.LinuxAMD64))
	return cfg, &fetches
}

func TestFileArgumentProvider(t *testing.T) {
	t.Parallel()

	p := &FileArgumentProvider{PropertyName: "com.example.tool.executable.path", File: staticFile("/opt/tool")}

	args, err := p.Arguments(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"-Dcom.example.tool.executable.path=/opt/tool"}, args)

	files, err := p.InputFiles(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"/opt/tool"}, files)

	for _, name := range []string{"", "with space", "a=b"} {
		_, err = (&FileArgumentProvider{PropertyName: name, File: staticFile("/opt/tool")}).Arguments(context.Background())
		require.ErrorIs(t, err, ErrInvalidProperty, name)
	}
}

func TestContainerConfigureEach(t *testing.T) {
	t.Parallel()

	c := NewContainer()
	early := &Task{Name: "unit", Kind: KindTest}
	other := &Task{Name: "lint", Kind: KindOther}
	require.NoError(t, c.Register(early))
	require.NoError(t, c.Register(other))

	var configured []string
	c.ConfigureEach(KindTest, func(t *Task) { configured = append(configured, t.Name) })
	assert.Equal(t, []string{"unit"}, configured)

	require.NoError(t, c.Register(&Task{Name: "integration", Kind: KindTest}))
	assert.Equal(t, []string{"unit", "integration"}, configured)

	require.ErrorIs(t, c.Register(&Task{Name: "unit", Kind: KindTest}), ErrDuplicateTask)

	got, ok := c.Get("lint")
	require.True(t, ok)
	assert.Same(t, other, got)
	assert.Len(t, c.Tasks(), 3)
}

func TestWire(t *testing.T) {
	t.Parallel()

	buildDir := t.TempDir()
	cfg, fetches := newToolchain(t, buildDir)

	c := NewContainer()
	Wire(c, cfg, "")
	test := &Task{Name: "test", Kind: KindTest, Command: "java", Args: []string{"-jar", "suite.jar"}}
	lint := &Task{Name: "lint", Kind: KindOther, Command: "yamllint"}
	require.NoError(t, c.Register(test))
	require.NoError(t, c.Register(lint))

	assert.False(t, cfg.Executable().Realized(), "wiring does not realize the executable")
	assert.Zero(t, fetches.Load())

	cmdline, err := lint.CommandLine(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"yamllint"}, cmdline)
	assert.False(t, cfg.Executable().Realized())

	cmdline, err = test.CommandLine(context.Background())
	require.NoError(t, err)
	exe := filepath.Join(buildDir, "helm", "executable", "linux-amd64", "helm")
	assert.Equal(t, []string{"java", "-jar", "suite.jar", "-Dcom.rrmoore.helm.test.executable.path=" + exe}, cmdline)

	inputs, err := test.InputFiles(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{exe}, inputs)
	assert.Equal(t, int32(1), fetches.Load())
}

func TestFingerprint(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	write := func(name string, content string) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
		return p
	}
	fingerprint := func(file string, args ...string) string {
		task := &Task{Name: "test", Kind: KindTest, Command: "run", Args: args}
		task.AddArgumentProvider(&FileArgumentProvider{PropertyName: "tool.path", File: staticFile(file)})
		fp, err := task.Fingerprint(context.Background())
		require.NoError(t, err)
		return fp
	}

	a := write("a", "helm 3.19.4")
	b := write("b", "helm 3.19.4")
	c := write("c", "helm 3.20.0")

	assert.Equal(t, fingerprint(a), fingerprint(b), "input location is irrelevant")
	assert.NotEqual(t, fingerprint(a), fingerprint(c), "input content matters")
	assert.NotEqual(t, fingerprint(a), fingerprint(a, "--verbose"), "arguments matter")

	renamed := &Task{Name: "test", Kind: KindTest, Command: "run"}
	renamed.AddArgumentProvider(&FileArgumentProvider{PropertyName: "other.path", File: staticFile(a)})
	fp, err := renamed.Fingerprint(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, fingerprint(a), fp, "property name matters")

	task := &Task{Name: "test", Command: "run"}
	task.AddArgumentProvider(&FileArgumentProvider{PropertyName: "tool.path", File: staticFile(filepath.Join(dir, "missing"))})
	_, err = task.Fingerprint(context.Background())
	require.ErrorIs(t, err, os.ErrNotExist)
}

// TestHelperProcess is not a real test. It is the process run by the runner tests.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("HELM_TOOLCHAIN_HELPER_PROCESS") != "1" {
		return
	}

	args := os.Args
	for i, a := range args {
		if a == "--" {
			args = args[i+1:]
			break
		}
	}
	if out := os.Getenv("HELPER_OUTPUT"); out != "" {
		f, err := os.OpenFile(out, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err == nil {
			_, _ = fmt.Fprintln(f, strings.Join(args, " "))
			_ = f.Close()
		}
	}
	code, _ := strconv.Atoi(os.Getenv("HELPER_EXIT_CODE"))
	os.Exit(code)
}

func helperTask(name string, output string, exitCode int) *Task {
	return &Task{
		Name:    name,
		Kind:    KindTest,
		Command: os.Args[0],
		Args:    []string{"-test.run=^TestHelperProcess$", "--"},
		Env: []string{
			"HELM_TOOLCHAIN_HELPER_PROCESS=1",
			"HELPER_OUTPUT=" + output,
			"HELPER_EXIT_CODE=" + strconv.Itoa(exitCode),
		},
	}
}

func runs(t *testing.T, output string) []string {
	t.Helper()

	raw, err := os.ReadFile(output)
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	return strings.Split(strings.TrimSpace(string(raw)), "\n")
}

func TestRunnerIsIncremental(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	buildDir := t.TempDir()
	output := filepath.Join(t.TempDir(), "runs.txt")
	cfg, fetches := newToolchain(t, buildDir)

	c := NewContainer()
	Wire(c, cfg, DefaultPropertyName)
	task := helperTask("test", output, 0)
	require.NoError(t, c.Register(task))

	history := state.NewInMemoryHistory(logger.NewTestBuilder())
	r := NewRunner(logger.NewTestBuilder(), history)
	r.Stdout, r.Stderr = &bytes.Buffer{}, &bytes.Buffer{}

	res, err := r.Run(ctx, task)
	require.NoError(t, err)
	assert.False(t, res.UpToDate)
	exe := filepath.Join(buildDir, "helm", "executable", "linux-amd64", "helm")
	assert.Equal(t, []string{"-Dcom.rrmoore.helm.test.executable.path=" + exe}, runs(t, output))

	rec, ok, err := history.Get("test")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, res.Fingerprint, rec.Fingerprint)
	assert.Equal(t, []string{exe}, rec.Inputs)

	res, err = r.Run(ctx, task)
	require.NoError(t, err)
	assert.True(t, res.UpToDate)
	assert.Len(t, runs(t, output), 1)

	// Changing the executable invalidates the task.
	require.NoError(t, os.WriteFile(exe, []byte("patched"), 0o755))
	res, err = r.Run(ctx, task)
	require.NoError(t, err)
	assert.False(t, res.UpToDate)
	assert.Len(t, runs(t, output), 2)

	r.Force = true
	res, err = r.Run(ctx, task)
	require.NoError(t, err)
	assert.False(t, res.UpToDate)
	assert.Len(t, runs(t, output), 3)
	assert.Equal(t, int32(1), fetches.Load())
}

func TestRunnerFailure(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	output := filepath.Join(t.TempDir(), "runs.txt")
	history := state.NewInMemoryHistory(logger.NewTestBuilder())
	r := NewRunner(logger.NewTestBuilder(), history)
	r.Stdout, r.Stderr = &bytes.Buffer{}, &bytes.Buffer{}

	task := helperTask("failing", output, 3)
	require.NoError(t, history.Put("failing", state.Record{Fingerprint: "stale"}))

	_, err := r.Run(ctx, task)
	require.ErrorIs(t, err, ErrTaskFailed)
	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 3, exitErr.Code)
	assert.Equal(t, "failing", exitErr.Task)

	_, ok, err := history.Get("failing")
	require.NoError(t, err)
	assert.False(t, ok, "failed tasks are never up to date")

	_, err = r.Run(ctx, &Task{Name: "empty"})
	require.ErrorIs(t, err, ErrNoCommand)
}
