// Package config locates and parses the helm-toolchain configuration files.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"

	"github.com/davecgh/go-spew/spew"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const (
	DriverName = "helm-toolchain"

	configFileName  = DriverName + ".yaml"
	projectFileName = "." + DriverName + ".yaml"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// Parse merges every configuration file that applies to the current working directory into conf.
// Later files take precedence: system, then user, then project files from the filesystem root
// down to the working directory.
func Parse(log *zap.Logger, conf *Global) error {
	cwd, err := os.Getwd()
	if err != nil {
		return err
	}
	return ParseFiles(log, conf, CandidateFiles(cwd)...)
}

// ParseFiles merges the given files into conf in order. Files that do not exist are skipped.
func ParseFiles(log *zap.Logger, conf *Global, paths ...string) error {
	if conf == nil {
		return fmt.Errorf("%w: can not parse configuration into nil struct", ErrInvalidConfig)
	}

	for _, p := range paths {
		raw, err := os.ReadFile(p)
		if errors.Is(err, os.ErrNotExist) {
			continue
		} else if err != nil {
			log.Error("Failed to read configuration file.", zap.String("path", p), zap.Error(err))
			return err
		}

		log.Debug("Merging configuration file.", zap.String("path", p))
		if err = decode(raw, conf); err != nil {
			log.Error("Failed to parse configuration file.", zap.String("path", p), zap.Error(err))
			return fmt.Errorf("%w: %s: %w", ErrInvalidConfig, p, err)
		}
	}

	if err := conf.Validate(); err != nil {
		log.Error("Configuration is invalid.", zap.Error(err))
		return err
	}
	log.Sugar().Debugf("Parsed configuration:\n%+v", spew.Sdump(conf))
	return nil
}

func decode(raw []byte, conf *Global) error {
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(conf); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// CandidateFiles lists, by increasing priority, the files that configure a build started in dir.
func CandidateFiles(dir string) []string {
	var files []string
	for _, d := range AllDirs() {
		files = append(files, filepath.Join(d, configFileName))
	}

	var project []string
	for {
		project = append(project, filepath.Join(dir, projectFileName))
		if dir == filepath.Dir(dir) {
			break
		}
		dir = filepath.Dir(dir)
	}
	for i := len(project) - 1; i >= 0; i-- {
		files = append(files, project[i])
	}
	return files
}

// CacheDir is the default location of downloaded distributions.
func CacheDir() string {
	if d, err := os.UserCacheDir(); err == nil {
		return filepath.Join(d, DriverName)
	}
	return filepath.Join(os.TempDir(), DriverName)
}

func AllDirs() []string {
	// The directories are in increasing order of priority such that they can be unmarshalled in
	// order into the same target struct.
	var dirs []string
	if p := SystemDir(); p != "" {
		dirs = append(dirs, p)
	}
	if p := UserDir(); p != "" {
		dirs = append(dirs, p)
	}
	return dirs
}

func SystemDir() string {
	switch runtime.GOOS {
	case "windows":
		if d := os.Getenv("PROGRAMDATA"); d != "" {
			return filepath.Join(d, DriverName)
		}
		return ""
	default:
		return filepath.Join("/etc", DriverName)
	}
}

func UserDir() string {
	switch runtime.GOOS {
	case "linux":
		if configPath, ok := os.LookupEnv("XDG_CONFIG_HOME"); ok {
			return filepath.Join(configPath, DriverName)
		}
		fallthrough
	case "darwin":
		if home := os.Getenv("HOME"); home != "" {
			return filepath.Join(home, ".config", DriverName)
		}
		return ""
	case "windows":
		if d := os.Getenv("LOCALAPPDATA"); d != "" {
			return filepath.Join(d, DriverName)
		}
		return ""
	default:
		if d, err := os.UserConfigDir(); err == nil {
			return filepath.Join(d, DriverName)
		}
		return ""
	}
}
