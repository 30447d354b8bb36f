// internal/cli/root_test.go
package refiner

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/mwiater/refiner/internal/history"
	"github.com/mwiater/refiner/internal/logging"
	"github.com/mwiater/refiner/internal/pipeline"
	"github.com/mwiater/refiner/internal/run"
	"github.com/mwiater/refiner/internal/settings"
)

func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.PersistentFlags().VisitAll(reset)
	cmd.Flags().VisitAll(reset)
	for _, sub := range cmd.Commands() {
		resetFlags(sub)
	}
}

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

// testConfig writes a config that keeps every file the commands touch inside a temp dir.
func testConfig(t *testing.T) (path, dir string) {
	t.Helper()
	dir = t.TempDir()
	cfg := map[string]any{
		"logFile":      filepath.Join(dir, "refiner.log"),
		"settingsPath": filepath.Join(dir, "settings.json"),
		"historyPath":  filepath.Join(dir, "history.db"),
		// flush the debounced save well before the temp dir is removed
		"saveDebounceMillis": 1,
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	return writeTempConfig(t, string(data)), dir
}

func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	prevOpts := orchestratorOptions
	orchestratorOptions = []pipeline.Option{
		pipeline.WithSleeper(func(ctx context.Context, _ time.Duration) error { return ctx.Err() }),
	}
	t.Cleanup(func() {
		orchestratorOptions = prevOpts
		resetFlags(rootCmd)
		viper.Reset()
		_ = logging.Close()
	})

	resetFlags(rootCmd)
	viper.Reset()
	for _, name := range []string{"debug", "jsonMode", "logFile"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
	_ = viper.BindPFlag("listen", serveCmd.Flags().Lookup("listen"))

	b := new(bytes.Buffer)
	rootCmd.SetOut(b)
	rootCmd.SetErr(b)
	rootCmd.SetArgs(args)
	_, err := rootCmd.ExecuteC()
	return b.String(), err
}

// TestRootCmd verifies running the root command with an invalid subcommand reports an error.
func TestRootCmd(t *testing.T) {
	_, err := executeCommand(t, "nonexistent")
	if err == nil {
		t.Fatal("Expected an error for a nonexistent command, but got none")
	}
	if !strings.Contains(err.Error(), `unknown command "nonexistent" for "refiner"`) {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestPersistentPreRunEUsesFlagValues(t *testing.T) {
	path, dir := testConfig(t)
	logPath := filepath.Join(dir, "flag.log")

	if _, err := executeCommand(t, "--config", path, "--debug", "--jsonMode", "--logFile", logPath, "stages"); err != nil {
		t.Fatalf("execute: %v", err)
	}

	cfg := GetConfig()
	if cfg == nil {
		t.Fatal("expected config to be set")
	}
	if !cfg.Debug || !cfg.JSONMode {
		t.Fatalf("expected flag values to override config, got %+v", cfg)
	}
	if cfg.LogFilePath() != logPath {
		t.Fatalf("log file = %q, want %q", cfg.LogFilePath(), logPath)
	}
	if cfg.ConfigPath != path {
		t.Fatalf("config path = %q, want %q", cfg.ConfigPath, path)
	}
	if _, err := os.Stat(logPath); err != nil {
		t.Fatalf("log file not created: %v", err)
	}
}

func TestPersistentPreRunEUsesConfigValues(t *testing.T) {
	dir := t.TempDir()
	path := writeTempConfig(t, `{"jsonMode": true, "logFile": "`+filepath.ToSlash(filepath.Join(dir, "cfg.log"))+`", "provider": {"type": "local", "models": {"GPT-4": "qwen"}}}`)

	if _, err := executeCommand(t, "--config", path, "stages"); err != nil {
		t.Fatalf("execute: %v", err)
	}
	cfg := GetConfig()
	if !cfg.JSONMode || cfg.Debug {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.Provider.Model("GPT-4") != "qwen" {
		t.Fatalf("model mapping lost through viper: %+v", cfg.Provider.Models)
	}
}

func TestInvalidConfigIsRejected(t *testing.T) {
	path := writeTempConfig(t, `{"provider": {"type": "llama.cpp"}}`)
	if _, err := executeCommand(t, "--config", path, "stages"); err == nil {
		t.Fatal("expected error for llama.cpp without url")
	}
	if _, err := executeCommand(t, "--config", filepath.Join(t.TempDir(), "missing.json"), "stages"); err == nil {
		t.Fatal("expected error for a missing explicit config file")
	}
}

func TestRefineJSONAndHistory(t *testing.T) {
	path, _ := testConfig(t)

	out, err := executeCommand(t, "--config", path, "refine", "--json", "Summarize", "this", "article")
	if err != nil {
		t.Fatalf("refine: %v\n%s", err, out)
	}
	var res pipeline.Result
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decode refine output: %v\n%s", err, out)
	}
	if res.Run.Outcome != run.OutcomeCompleted || res.Run.Prompt != "Summarize this article" || res.Metrics == nil {
		t.Fatalf("unexpected result: %+v", res)
	}

	out, err = executeCommand(t, "--config", path, "--jsonMode", "history")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	var entries []history.Entry
	if err := json.Unmarshal([]byte(out), &entries); err != nil {
		t.Fatalf("decode history: %v\n%s", err, out)
	}
	if len(entries) != 1 || entries[0].Run.ID != res.Run.ID {
		t.Fatalf("unexpected history: %+v", entries)
	}

	out, err = executeCommand(t, "--config", path, "history", "export", res.Run.ID)
	if err != nil {
		t.Fatalf("history export: %v\n%s", err, out)
	}
	var exported history.Entry
	if err := json.Unmarshal([]byte(out), &exported); err != nil {
		t.Fatalf("decode export: %v\n%s", err, out)
	}
	if exported.Run.ID != res.Run.ID || exported.Run.Prompt != "Summarize this article" {
		t.Fatalf("unexpected export: %+v", exported)
	}
	exportPath := filepath.Join(t.TempDir(), "run.json")
	out, err = executeCommand(t, "--config", path, "history", "export", res.Run.ID, "-o", exportPath)
	if err != nil || !strings.Contains(out, "Exported run") {
		t.Fatalf("history export -o: %v\n%s", err, out)
	}
	data, err := os.ReadFile(exportPath)
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	if !strings.Contains(string(data), res.Run.ID) {
		t.Fatalf("export file missing run id:\n%s", data)
	}
	if _, err := executeCommand(t, "--config", path, "history", "export", "missing"); err == nil {
		t.Fatal("expected error for an unknown run id")
	}

	out, err = executeCommand(t, "--config", path, "history", "--clear")
	if err != nil || !strings.Contains(out, "History cleared.") {
		t.Fatalf("history --clear: %v\n%s", err, out)
	}
	out, err = executeCommand(t, "--config", path, "history")
	if err != nil || !strings.Contains(out, "No runs recorded.") {
		t.Fatalf("history after clear: %v\n%s", err, out)
	}
}

func TestRefinePlainOutput(t *testing.T) {
	path, _ := testConfig(t)

	out, err := executeCommand(t, "--config", path, "refine", "Summarize this article")
	if err != nil {
		t.Fatalf("refine: %v\n%s", err, out)
	}
	for _, want := range []string{"[1] input-received", "[6] results-deliver", "run completed", "Enhanced prompt", "Output", "Total processing time:", "Latency reduction:     22.4x"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

func TestConfigSetResetAndExport(t *testing.T) {
	path, dir := testConfig(t)

	out, err := executeCommand(t, "--config", path, "config", "set", "chunkSize", "32")
	if err != nil {
		t.Fatalf("config set: %v", err)
	}
	if !strings.Contains(out, "Chunk Size:        64") {
		t.Fatalf("chunk size not clamped:\n%s", out)
	}

	stored, err := os.ReadFile(filepath.Join(dir, "settings.json"))
	if err != nil {
		t.Fatalf("settings not saved: %v", err)
	}
	saved, err := settings.Decode(stored)
	if err != nil || saved.ChunkSize != 64 {
		t.Fatalf("saved settings = %+v, %v", saved, err)
	}

	if _, err := executeCommand(t, "--config", path, "config", "set", "primaryModel", "Gemma-2B"); err == nil {
		t.Fatal("expected error for a lightweight primary model")
	}

	out, err = executeCommand(t, "--config", path, "--jsonMode", "config", "show")
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	var shown settings.Configuration
	if err := json.Unmarshal([]byte(out), &shown); err != nil || shown.ChunkSize != 64 {
		t.Fatalf("config show = %+v, %v\n%s", shown, err, out)
	}

	exportPath := filepath.Join(dir, "export.json")
	if _, err := executeCommand(t, "--config", path, "config", "export", "--format", "json", "-o", exportPath); err != nil {
		t.Fatalf("config export: %v", err)
	}
	data, err := os.ReadFile(exportPath)
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	var doc settings.Export
	if err := json.Unmarshal(data, &doc); err != nil || doc.Settings.ChunkSize != 64 || len(doc.Techniques) == 0 {
		t.Fatalf("unexpected export %+v, %v", doc, err)
	}

	if _, err := executeCommand(t, "--config", path, "config", "reset"); err != nil {
		t.Fatalf("config reset: %v", err)
	}
	out, err = executeCommand(t, "--config", path, "config", "show")
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	for _, want := range []string{"Current configuration:", "Chunk Size:        128", "Provider:        local"} {
		if !strings.Contains(out, want) {
			t.Fatalf("config show missing %q:\n%s", want, out)
		}
	}
}

func TestStagesAndCommands(t *testing.T) {
	path, _ := testConfig(t)

	out, err := executeCommand(t, "--config", path, "stages")
	if err != nil {
		t.Fatalf("stages: %v", err)
	}
	for _, want := range []string{"input-received", "accelerator-optimize", "50ms", "results-deliver"} {
		if !strings.Contains(out, want) {
			t.Fatalf("stages output missing %q:\n%s", want, out)
		}
	}

	out, err = executeCommand(t, "--config", path, "commands")
	if err != nil {
		t.Fatalf("commands: %v", err)
	}
	for _, want := range []string{"refiner", "refine", "config export", "serve"} {
		if !strings.Contains(out, want) {
			t.Fatalf("commands output missing %q:\n%s", want, out)
		}
	}
}
