// Package coordinate builds the identifiers under which packaged tool distributions are published.
package coordinate

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Helcaraxan/helm-toolchain/internal/platform"
)

var ErrInvalidCoordinate = errors.New("invalid artifact coordinate")

const (
	HelmGroup     = "io.github.helm"
	HelmArtifact  = "helm"
	HelmExtension = "tar.gz"

	// HelmBaseURL and HelmPattern locate Helm distributions on the official download host.
	HelmBaseURL = "https://get.helm.sh"
	HelmPattern = "[artifact]-v[revision]-[classifier].[ext]"
)

// Coordinate identifies a single downloadable distribution. It is a value type without identity
// of its own: two coordinates with equal fields designate the same artifact.
type Coordinate struct {
	Group      string
	Artifact   string
	Version    string
	Classifier string
	Extension  string
}

// Helm returns the coordinate of the Helm distribution for the given version and platform.
func Helm(version string, p platform.Identifier) Coordinate {
	return HelmFromString(version, p.String())
}

// HelmFromString is Helm for callers that bypass platform identification and provide the
// platform string themselves.
func HelmFromString(version string, platformIdentifier string) Coordinate {
	return Coordinate{
		Group:      HelmGroup,
		Artifact:   HelmArtifact,
		Version:    version,
		Classifier: platformIdentifier,
		Extension:  HelmExtension,
	}
}

// String renders "<group>:<artifact>:<version>:<classifier>@<extension>".
func (c Coordinate) String() string {
	return fmt.Sprintf("%s:%s:%s:%s@%s", c.Group, c.Artifact, c.Version, c.Classifier, c.Extension)
}

// Parse is the inverse of Coordinate.String.
func Parse(s string) (Coordinate, error) {
	body, ext, ok := strings.Cut(s, "@")
	if !ok || ext == "" {
		return Coordinate{}, fmt.Errorf("%w: %q has no '@<extension>' suffix", ErrInvalidCoordinate, s)
	}
	parts := strings.Split(body, ":")
	if len(parts) != 4 {
		return Coordinate{}, fmt.Errorf("%w: %q does not have the form group:artifact:version:classifier@ext", ErrInvalidCoordinate, s)
	}
	for _, p := range parts {
		if p == "" {
			return Coordinate{}, fmt.Errorf("%w: %q has an empty component", ErrInvalidCoordinate, s)
		}
	}
	return Coordinate{
		Group:      parts[0],
		Artifact:   parts[1],
		Version:    parts[2],
		Classifier: parts[3],
		Extension:  ext,
	}, nil
}

// Expand instantiates an Ivy-style artifact pattern such as
// "[artifact]-v[revision]-[classifier].[ext]".
func (c Coordinate) Expand(pattern string) string {
	return strings.NewReplacer(
		"[organisation]", c.Group,
		"[organization]", c.Group,
		"[module]", c.Artifact,
		"[artifact]", c.Artifact,
		"[revision]", c.Version,
		"[classifier]", c.Classifier,
		"[ext]", c.Extension,
	).Replace(pattern)
}

// FileName is the name under which the artifact is published by default.
func (c Coordinate) FileName() string {
	return c.Expand(HelmPattern)
}

// Path is a relative, slash-separated location that is unique per coordinate.
func (c Coordinate) Path() string {
	return strings.Join([]string{c.Group, c.Artifact, c.Version, c.Classifier}, "/")
}
