package logger

import (
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Domain uint8

const (
	UnknownDomain Domain = iota
	AllDomain
	InitDomain
	CLIDomain
	PlatformDomain
	FetchDomain
	ExtractDomain
	ToolchainDomain
	TaskDomain
	FileSystemDomain
	GCSDomain
	GitHubDomain
	HTTPSDomain
	S3Domain
)

var (
	domainFromString = map[string]Domain{
		"all":       AllDomain,
		"init":      InitDomain,
		"cli":       CLIDomain,
		"platform":  PlatformDomain,
		"fetch":     FetchDomain,
		"extract":   ExtractDomain,
		"toolchain": ToolchainDomain,
		"task":      TaskDomain,
		"fs":        FileSystemDomain,
		"gcs":       GCSDomain,
		"github":    GitHubDomain,
		"https":     HTTPSDomain,
		"s3":        S3Domain,
	}

	stringFromDomain = map[Domain]string{
		AllDomain:        "all",
		InitDomain:       "init",
		CLIDomain:        "cli",
		PlatformDomain:   "platform",
		FetchDomain:      "fetch",
		ExtractDomain:    "extract",
		ToolchainDomain:  "toolchain",
		TaskDomain:       "task",
		FileSystemDomain: "fs",
		GCSDomain:        "gcs",
		GitHubDomain:     "github",
		HTTPSDomain:      "https",
		S3Domain:         "s3",
	}
)

// Builder hands out one named logger per domain. Levels can be raised or lowered per domain
// until the first logger for that domain has been requested.
type Builder struct {
	log          *zap.Logger
	defaultLevel zapcore.Level

	mu           sync.Mutex
	domainLevels map[Domain]zapcore.Level
	cache        map[Domain]*zap.Logger
}

func NewBuilder(out zapcore.WriteSyncer) *Builder {
	enc := newEncoder()
	return &Builder{
		log:          zap.New(zapcore.NewCore(enc, out, zapcore.DebugLevel)),
		defaultLevel: zap.InfoLevel,
		domainLevels: map[Domain]zapcore.Level{},
		cache:        map[Domain]*zap.Logger{},
	}
}

// NewNopBuilder returns a builder whose loggers are no-ops, for library use without a configured
// output.
func NewNopBuilder() *Builder {
	return &Builder{
		log:          zap.NewNop(),
		defaultLevel: zap.InfoLevel,
		domainLevels: map[Domain]zapcore.Level{},
		cache:        map[Domain]*zap.Logger{},
	}
}

// NewTestBuilder returns a builder that discards all output.
func NewTestBuilder() *Builder {
	return NewBuilder(zapcore.AddSync(io.Discard))
}

func (b *Builder) SetDomainLevel(domain string, level zapcore.Level) {
	b.mu.Lock()
	defer b.mu.Unlock()

	d := domainFromString[domain]
	switch d {
	case UnknownDomain:
		b.log.Warn("Unrecognised logger domain.", zap.String("domain", domain))
	case AllDomain:
		b.defaultLevel = level
	case InitDomain, CLIDomain, PlatformDomain, FetchDomain, ExtractDomain, ToolchainDomain, TaskDomain,
		FileSystemDomain, GCSDomain, GitHubDomain, HTTPSDomain, S3Domain:
		b.domainLevels[d] = level
	default:
		panic(fmt.Sprintf("unexpected domain %q", d))
	}
}

func (b *Builder) Domain(domain Domain) *zap.Logger {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.cache[domain]; !ok {
		targetLevel := b.defaultLevel
		if lvl, ok := b.domainLevels[domain]; ok {
			targetLevel = lvl
		}
		b.cache[domain] = b.log.Named(stringFromDomain[domain]).WithOptions(zap.IncreaseLevel(targetLevel))
	}
	return b.cache[domain]
}

// Domains lists the names accepted by SetDomainLevel.
func Domains() []string {
	names := make([]string, 0, len(domainFromString))
	for n := range domainFromString {
		names = append(names, n)
	}
	return names
}
