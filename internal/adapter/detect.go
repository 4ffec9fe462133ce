package adapter

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
)

// DiscoveryResult is the outcome of running a chain of DetectOptions.
type DiscoveryResult struct {
	Available   bool
	MatchedPath string
}

// DetectOption is one detection strategy. It returns (found, matchedPath, err).
type DetectOption func(ctx context.Context) (bool, string, error)

// WithFileExists checks whether any of the given paths exist (~ expanded).
func WithFileExists(paths ...string) DetectOption {
	return func(ctx context.Context) (bool, string, error) {
		for _, p := range paths {
			expanded := expandHomePath(p)
			if expanded == "" {
				continue
			}
			if _, err := os.Stat(expanded); err == nil {
				return true, expanded, nil
			}
		}
		return false, "", nil
	}
}

// WithCommand checks whether name resolves on PATH.
func WithCommand(name string) DetectOption {
	return func(ctx context.Context) (bool, string, error) {
		path, err := exec.LookPath(name)
		if err != nil {
			return false, "", nil
		}
		return true, path, nil
	}
}

// WithCommandOutput runs name with args and checks stdout against pattern.
func WithCommandOutput(pattern, name string, args ...string) DetectOption {
	return func(ctx context.Context) (bool, string, error) {
		out, err := exec.CommandContext(ctx, name, args...).Output()
		if err != nil {
			return false, "", nil
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return false, "", err
		}
		if re.Match(out) {
			return true, name, nil
		}
		return false, "", nil
	}
}

// WithEnvVar checks whether an environment variable is set and non-empty.
func WithEnvVar(name string) DetectOption {
	return func(ctx context.Context) (bool, string, error) {
		if os.Getenv(name) != "" {
			return true, name, nil
		}
		return false, "", nil
	}
}

// Detect runs opts in order and returns the first match.
func Detect(ctx context.Context, opts ...DetectOption) (*DiscoveryResult, error) {
	for _, opt := range opts {
		found, matched, err := opt(ctx)
		if err != nil {
			return &DiscoveryResult{Available: false}, err
		}
		if found {
			return &DiscoveryResult{Available: true, MatchedPath: matched}, nil
		}
	}
	return &DiscoveryResult{Available: false}, nil
}

func expandHomePath(path string) string {
	if path == "" {
		return ""
	}
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		path = filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return filepath.Clean(filepath.FromSlash(path))
}

// OSPaths holds per-OS candidate path lists for WithFileExists-style probes.
type OSPaths struct {
	Linux   []string
	MacOS   []string
	Windows []string
}

// Resolve returns the raw candidate paths for the running OS.
func (p OSPaths) Resolve() []string {
	switch runtime.GOOS {
	case "darwin":
		return p.MacOS
	case "windows":
		return p.Windows
	default:
		return p.Linux
	}
}

// Expanded returns Resolve() with ~ expanded to the home directory.
func (p OSPaths) Expanded() []string {
	paths := p.Resolve()
	out := make([]string, 0, len(paths))
	for _, path := range paths {
		if e := expandHomePath(path); e != "" {
			out = append(out, e)
		}
	}
	return out
}

// versionPattern extracts a dotted version number from a --version probe.
var versionPattern = regexp.MustCompile(`\d+\.\d+(\.\d+)?`)

// ProbeVersion runs "<binary> --version" and extracts the first dotted
// version string found, returning "" if the probe fails.
func ProbeVersion(ctx context.Context, binary string, versionArgs ...string) string {
	if len(versionArgs) == 0 {
		versionArgs = []string{"--version"}
	}
	out, err := exec.CommandContext(ctx, binary, versionArgs...).Output()
	if err != nil {
		return ""
	}
	return versionPattern.FindString(string(out))
}
