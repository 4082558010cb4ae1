package toolchain

import (
	"fmt"
	"strings"

	"github.com/Helcaraxan/helm-toolchain/internal/logger"
	"github.com/Helcaraxan/helm-toolchain/internal/platform"
)

type Option func(*Configuration)

func WithFetcher(f Fetcher) Option {
	return func(c *Configuration) { c.fetcher = f }
}

func WithExtractor(e Extractor) Option {
	return func(c *Configuration) { c.extractor = e }
}

func WithOutputRoot(root string) Option {
	return func(c *Configuration) { c.outputRoot = root }
}

func WithLayout(l Layout) Option {
	return func(c *Configuration) { c.layout = l }
}

// WithHostSignals replaces the OS name and architecture from which the platform is guessed.
func WithHostSignals(osName string, osArch string) Option {
	return func(c *Configuration) { c.osName, c.osArch = osName, osArch }
}

func WithLogger(logBuilder *logger.Builder) Option {
	return func(c *Configuration) {
		c.logBuilder = logBuilder
		c.log = logBuilder.Domain(logger.ToolchainDomain)
	}
}

// WithExecutableName overrides the platform-dependent default of "helm" or "helm.exe".
func WithExecutableName(name string) Option {
	return func(c *Configuration) { c.exeName = name }
}

// Layout determines how extracted distributions are partitioned below the output root.
type Layout uint8

const (
	// LayoutFlat partitions by platform: <output-root>/<platform>/.
	LayoutFlat Layout = iota
	// LayoutVersioned partitions by platform and version: <output-root>/<platform>-<version>/.
	LayoutVersioned
)

func (l Layout) String() string {
	switch l {
	case LayoutFlat:
		return "flat"
	case LayoutVersioned:
		return "versioned"
	default:
		return fmt.Sprintf("Layout(%d)", uint8(l))
	}
}

func ParseLayout(s string) (Layout, error) {
	switch strings.ToLower(s) {
	case "", "flat":
		return LayoutFlat, nil
	case "versioned":
		return LayoutVersioned, nil
	default:
		return 0, &ConfigurationError{Field: "layout", Err: fmt.Errorf("unknown layout %q, expected 'flat' or 'versioned'", s)}
	}
}

func (l Layout) key(version string, p platform.Identifier) string {
	if l == LayoutVersioned {
		return p.String() + "-" + version
	}
	return p.String()
}
