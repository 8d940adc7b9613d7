package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"jxlpack/internal/config"
	"jxlpack/internal/pipeline"
	"jxlpack/internal/testsupport"
)

type cliTestEnv struct {
	cfg        *config.Config
	configPath string
}

func setupCLITestEnv(t *testing.T, opts ...testsupport.ConfigOption) *cliTestEnv {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	home := filepath.Join(testsupport.BaseDir(cfg), "home")
	if err := os.MkdirAll(home, 0o755); err != nil {
		t.Fatalf("mkdir home: %v", err)
	}
	t.Setenv("HOME", home)

	encoded, err := cfg.Encode()
	if err != nil {
		t.Fatalf("encode config: %v", err)
	}
	configPath := filepath.Join(testsupport.BaseDir(cfg), "config.toml")
	if err := os.WriteFile(configPath, []byte(encoded), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return &cliTestEnv{cfg: cfg, configPath: configPath}
}

func runCLI(t *testing.T, args []string, configPath, stdin string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetIn(strings.NewReader(stdin))
	var flags []string
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func requireContains(t *testing.T, haystack, needle string) {
	t.Helper()
	if !strings.Contains(haystack, needle) {
		t.Fatalf("expected output to contain %q, got:\n%s", needle, haystack)
	}
}

func TestRunConvertsAndPacks(t *testing.T) {
	env := setupCLITestEnv(t)
	root := t.TempDir()
	testsupport.WritePNG(t, filepath.Join(root, "album", "a.png"), 1)

	out, _, err := runCLI(t, []string{"run", "--no-wait", root}, env.configPath, "")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	requireContains(t, out, "Run summary")
	requireContains(t, out, "Archives written")
	if !testsupport.Exists(filepath.Join(root, "album.zip")) {
		t.Fatal("expected album.zip")
	}
	if !testsupport.Exists(filepath.Join(env.cfg.LogDir, "jxlpack.log")) {
		t.Fatal("expected log file")
	}

	out, _, err = runCLI(t, []string{"logs", "-n", "200"}, env.configPath, "")
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	requireContains(t, out, "directory done")

	out, _, err = runCLI(t, []string{"worklist", "list"}, env.configPath, "")
	if err != nil {
		t.Fatalf("worklist list: %v", err)
	}
	requireContains(t, out, root)

	out, _, err = runCLI(t, []string{"worklist", "reset", root}, env.configPath, "")
	if err != nil {
		t.Fatalf("worklist reset: %v", err)
	}
	requireContains(t, out, "removed")
}

func TestRunPromptsUntilDirectoryExists(t *testing.T) {
	env := setupCLITestEnv(t)
	root := t.TempDir()
	stdin := "/definitely/not/here\n\"" + root + "\"\n"

	out, _, err := runCLI(t, []string{"run", "--no-wait"}, env.configPath, stdin)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	requireContains(t, out, "Not a usable directory")
	requireContains(t, out, "Run summary")
}

func TestRunPromptEOFFails(t *testing.T) {
	env := setupCLITestEnv(t)
	if _, _, err := runCLI(t, []string{"run", "--no-wait"}, env.configPath, ""); err == nil {
		t.Fatal("expected error when no directory is entered")
	}
}

func TestRunFailsWhenEncoderMissing(t *testing.T) {
	env := setupCLITestEnv(t)
	env.cfg.Encoder = filepath.Join(t.TempDir(), "missing-cjxl")
	encoded, err := env.cfg.Encode()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(env.configPath, []byte(encoded), 0o644); err != nil {
		t.Fatal(err)
	}
	root := t.TempDir()

	_, _, err = runCLI(t, []string{"run", "--no-wait", root}, env.configPath, "")
	if err == nil {
		t.Fatal("expected error for missing encoder")
	}
	if !strings.Contains(err.Error(), "encoder") {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestConfigInitValidateShow(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"config", "validate"}, env.configPath, "")
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	requireContains(t, out, "Configuration valid")

	out, _, err = runCLI(t, []string{"config", "show"}, env.configPath, "")
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	requireContains(t, out, "png_args")
	requireContains(t, out, env.cfg.StateDir)

	target := filepath.Join(t.TempDir(), "config.toml")
	out, _, err = runCLI(t, []string{"config", "init", "--path", target}, "", "")
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")
	if _, _, err := runCLI(t, []string{"config", "init", "--path", target}, "", ""); err == nil {
		t.Fatal("expected init to refuse overwriting")
	}
}

func TestConfigValidateRestoresMalformedFile(t *testing.T) {
	env := setupCLITestEnv(t)
	if err := os.WriteFile(env.configPath, []byte("this is = = not toml"), 0o644); err != nil {
		t.Fatal(err)
	}
	out, _, err := runCLI(t, []string{"config", "validate"}, env.configPath, "")
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	requireContains(t, out, "malformed")
	if !testsupport.Exists(env.configPath + ".bak") {
		t.Fatal("expected backup of malformed config")
	}
}

func TestRenderSummaryMarksPendingDirectories(t *testing.T) {
	root := "/photos"
	out := renderSummary(pipeline.Summary{
		Root: root,
		Directories: []pipeline.DirReport{
			{Dir: filepath.Join(root, "locked"), State: pipeline.StateFailed, Pending: true},
			{Dir: filepath.Join(root, "broken"), State: pipeline.StateFailed, Failed: 1},
			{Dir: filepath.Join(root, "fine"), State: pipeline.StatePackaged, Converted: 2},
		},
	})
	if !strings.Contains(out, "failed (pending)") {
		t.Fatalf("expected pending marker for unlistable directory:\n%s", out)
	}
	if strings.Count(out, "(pending)") != 1 {
		t.Fatalf("only the unlistable directory is pending:\n%s", out)
	}
	if strings.Contains(out, "fine") {
		t.Fatalf("packaged directories need no attention:\n%s", out)
	}
}
