package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestConfigInitWritesSample(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	target := filepath.Join(t.TempDir(), "quill", "config.toml")

	out, _, err := runCLI(t, "", "config", "init", "--path", target)
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	if !strings.Contains(out, target) {
		t.Fatalf("output %q does not mention %s", out, target)
	}
	data, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	if !strings.Contains(string(data), "[llm]") {
		t.Fatalf("sample config missing llm section")
	}

	if _, _, err := runCLI(t, "", "config", "init", "--path", target); err == nil {
		t.Fatal("expected existing file to be kept without --overwrite")
	}
	if _, _, err := runCLI(t, "", "config", "init", "--path", target, "--overwrite"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, env.configPath, "config", "validate")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !strings.Contains(out, "Configuration valid") || !strings.Contains(out, env.cfg.DatabasePath()) {
		t.Fatalf("validate output: %q", out)
	}
}

func TestConfigValidateRejectsBadConfig(t *testing.T) {
	env := setupCLITestEnv(t)
	if err := os.WriteFile(env.configPath, []byte("[storage]\nbackend = \"ftp\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, _, err := runCLI(t, env.configPath, "config", "validate"); err == nil {
		t.Fatal("expected invalid storage backend to fail")
	}
}

func TestRunRequiresCredentials(t *testing.T) {
	env := setupCLITestEnv(t)
	t.Setenv("OPENROUTER_API_KEY", "")
	env.cfg.LLM.APIKey = ""
	writeTestConfig(t, env.configPath, env.cfg)

	_, _, err := runCLI(t, env.configPath, "run")
	if err == nil || !strings.Contains(err.Error(), "llm.api_key") {
		t.Fatalf("err = %v", err)
	}
}

func TestRootCommandTree(t *testing.T) {
	root := newRootCommand()
	for _, path := range [][]string{
		{"run"}, {"mine"}, {"serve"}, {"health"}, {"feed"}, {"test-notify"},
		{"topics", "list"}, {"topics", "add"}, {"topics", "reject"}, {"topics", "requeue"},
		{"articles", "list"}, {"articles", "check"}, {"articles", "repair"}, {"articles", "announce"},
		{"config", "init"}, {"config", "validate"},
	} {
		cmd, _, err := root.Find(path)
		if err != nil || cmd.Name() != path[len(path)-1] {
			t.Fatalf("command %v not registered (err=%v)", path, err)
		}
	}
}
