package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"jxlpack/internal/config"
)

// StubMode selects how a stub encoder behaves.
type StubMode int

const (
	// StubConvert writes a JPEG XL codestream marker followed by the source
	// bytes, so identical sources give identical outputs.
	StubConvert StubMode = iota
	// StubFail prints to stdout and stderr and exits 1 without output.
	StubFail
	// StubSleep blocks long enough to trip any test timeout.
	StubSleep
	// StubSelective fails sources whose name starts with "bad" and converts
	// everything else.
	StubSelective
	// StubTruncate writes the start of an output and then blocks, like an
	// encoder killed mid-write.
	StubTruncate
)

const convertBody = `{ printf '\377\012'; cat "$1"; } > "$2" || exit 1
echo "encoded $1"
`

func stubScript(mode StubMode) string {
	switch mode {
	case StubFail:
		return "#!/bin/sh\necho \"reading $1\"\necho \"stub encoder failure\" >&2\nexit 1\n"
	case StubSleep:
		return "#!/bin/sh\nexec sleep 30\n"
	case StubTruncate:
		return "#!/bin/sh\nprintf '\\377\\012trunc' > \"$2\"\nexec sleep 30\n"
	case StubSelective:
		return "#!/bin/sh\ncase \"$(basename \"$1\")\" in\n  bad*) echo \"cannot decode $1\" >&2; exit 1 ;;\nesac\n" + convertBody
	default:
		return "#!/bin/sh\n" + convertBody
	}
}

// WriteStubEncoder writes an executable stub encoder into dir and returns
// its path.
func WriteStubEncoder(t testing.TB, dir string, mode StubMode) string {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir bin dir: %v", err)
	}
	path := filepath.Join(dir, "cjxl")
	if err := os.WriteFile(path, []byte(stubScript(mode)), 0o755); err != nil {
		t.Fatalf("write stub encoder: %v", err)
	}
	return path
}

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// The encoder is a converting stub and deletions go straight to disk unless
// options say otherwise.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.StateDir = filepath.Join(base, "state")
	cfgVal.LogDir = filepath.Join(base, "logs")
	cfgVal.Workers = 2
	cfgVal.SkipTrash = true

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}
	builder.cfg.Encoder = WriteStubEncoder(t, filepath.Join(base, "bin"), StubConvert)

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithStubEncoder replaces the encoder with a stub of the given mode.
func WithStubEncoder(mode StubMode) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Encoder = WriteStubEncoder(b.t, filepath.Join(b.baseDir, "bin"), mode)
	}
}

// WithDeletion sets the source and folder deletion switches.
func WithDeletion(sources, folder bool) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.DeleteSourceImage = sources
		b.cfg.DeleteFolder = folder
	}
}

// WithTrash routes deletions through the user trash, kept under the test's
// base directory.
func WithTrash() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.SkipTrash = false
		b.t.Setenv("XDG_DATA_HOME", filepath.Join(b.baseDir, "xdg"))
	}
}

// WithMakeZip toggles packaging.
func WithMakeZip(enabled bool) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.MakeZip = enabled
	}
}

// WithEncodeTimeout sets the per-invocation encoder timeout in seconds.
func WithEncodeTimeout(seconds int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.EncodeTimeoutSeconds = seconds
	}
}

// WithExclude sets exclude patterns.
func WithExclude(patterns ...string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Exclude = append([]string(nil), patterns...)
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.StateDir)
}
