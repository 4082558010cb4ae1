// Package platform identifies the operating-system and architecture combination for which a
// prebuilt Helm distribution is published.
package platform

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
)

var ErrUnknownPlatform = errors.New("unknown platform identifier")

// Identifier is one of the published Helm distribution platforms. Each variant carries its
// canonical string which is used verbatim in artifact coordinates and output directory names.
// Variants are only ever added, never renamed.
type Identifier struct {
	name  string
	value string
}

var (
	DarwinAMD64  = newIdentifier("DARWIN_AMD64", "")
	DarwinARM64  = newIdentifier("DARWIN_ARM64", "")
	LinuxAMD64   = newIdentifier("LINUX_AMD64", "")
	LinuxARM     = newIdentifier("LINUX_ARM", "")
	LinuxARM64   = newIdentifier("LINUX_ARM64", "")
	LinuxI386    = newIdentifier("LINUX_I386", "linux-386")
	LinuxLoong64 = newIdentifier("LINUX_LOONG64", "")
	LinuxPPC64LE = newIdentifier("LINUX_PPC64LE", "")
	LinuxS390X   = newIdentifier("LINUX_S390X", "")
	LinuxRISCV64 = newIdentifier("LINUX_RISCV64", "")
	WindowsAMD64 = newIdentifier("WINDOWS_AMD64", "")
	WindowsARM64 = newIdentifier("WINDOWS_ARM64", "")

	all = []Identifier{
		DarwinAMD64,
		DarwinARM64,
		LinuxAMD64,
		LinuxARM,
		LinuxARM64,
		LinuxI386,
		LinuxLoong64,
		LinuxPPC64LE,
		LinuxS390X,
		LinuxRISCV64,
		WindowsAMD64,
		WindowsARM64,
	}
)

// newIdentifier derives the canonical string from the variant name unless an explicit one is
// given.
func newIdentifier(name string, value string) Identifier {
	if value == "" {
		value = strings.ReplaceAll(strings.ToLower(name), "_", "-")
	}
	return Identifier{name: name, value: value}
}

// All returns every known identifier in declaration order.
func All() []Identifier {
	return append([]Identifier(nil), all...)
}

func (i Identifier) String() string { return i.value }

// Name is the upper-case variant name, e.g. LINUX_I386.
func (i Identifier) Name() string { return i.name }

func (i Identifier) IsZero() bool { return i.value == "" }

// OS returns the operating-system part of the canonical string.
func (i Identifier) OS() string {
	name, _, _ := strings.Cut(i.value, "-")
	return name
}

// Arch returns the architecture part of the canonical string.
func (i Identifier) Arch() string {
	_, arch, _ := strings.Cut(i.value, "-")
	return arch
}

// Parse accepts either a canonical string ("linux-386") or a variant name ("LINUX_I386"), both
// case-insensitively.
func Parse(s string) (Identifier, error) {
	for _, i := range all {
		if strings.EqualFold(s, i.value) || strings.EqualFold(s, i.name) {
			return i, nil
		}
	}
	return Identifier{}, fmt.Errorf("%w: %q", ErrUnknownPlatform, s)
}

func (i Identifier) MarshalText() ([]byte, error) {
	if i.IsZero() {
		return nil, fmt.Errorf("%w: empty identifier", ErrUnknownPlatform)
	}
	return []byte(i.value), nil
}

func (i *Identifier) UnmarshalText(text []byte) error {
	p, err := Parse(string(text))
	if err != nil {
		return err
	}
	*i = p
	return nil
}

// Guess performs a simplistic best-effort mapping of an OS name and architecture onto an
// identifier. It only ever yields darwin, windows or linux combined with amd64 or arm64: any other
// architecture (32-bit, ARM32, PPC64LE, s390x, RISC-V, LoongArch) needs an explicit override.
func Guess(osName string, osArch string) Identifier {
	osName = strings.ToLower(osName)
	osArch = strings.ToLower(osArch)

	var darwin, windows bool
	switch {
	case strings.Contains(osName, "mac"):
		darwin = true
	case strings.Contains(osName, "windows"):
		windows = true
	}
	amd64 := osArch == "x86_64" || osArch == "amd64"

	switch {
	case darwin && amd64:
		return DarwinAMD64
	case darwin:
		return DarwinARM64
	case windows && amd64:
		return WindowsAMD64
	case windows:
		return WindowsARM64
	case amd64:
		return LinuxAMD64
	default:
		return LinuxARM64
	}
}

const (
	EnvOSName = "HELM_TOOLCHAIN_OS_NAME"
	EnvOSArch = "HELM_TOOLCHAIN_OS_ARCH"
)

// HostSignals returns the OS name and architecture of the running process, as overridden by the
// HELM_TOOLCHAIN_OS_NAME and HELM_TOOLCHAIN_OS_ARCH environment variables when set. Pass the result
// to Guess rather than calling it from inside library code.
func HostSignals() (osName string, osArch string) {
	osName, osArch = hostOSName(runtime.GOOS), runtime.GOARCH
	if v, ok := os.LookupEnv(EnvOSName); ok && v != "" {
		osName = v
	}
	if v, ok := os.LookupEnv(EnvOSArch); ok && v != "" {
		osArch = v
	}
	return osName, osArch
}

func hostOSName(goos string) string {
	switch goos {
	case "darwin":
		return "Mac OS X"
	case "windows":
		return "Windows"
	case "linux":
		return "Linux"
	default:
		return goos
	}
}
