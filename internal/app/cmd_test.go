package app

import (
	"bytes"
	"io"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewRootCommand_Subcommands(t *testing.T) {
	root := NewRootCommand(io.Discard)

	want := []Command{CommandServe, CommandWorker, CommandMigrate, CommandAudit, CommandPolicy, CommandHealthcheck}
	for _, name := range want {
		cmd, _, err := root.Find([]string{string(name)})
		if err != nil {
			t.Errorf("Find(%q) error = %v", name, err)
			continue
		}
		if cmd.Name() != string(name) {
			t.Errorf("Find(%q) = %q", name, cmd.Name())
		}
	}
}

func TestNewRootCommand_DefaultsToServe(t *testing.T) {
	root := NewRootCommand(io.Discard)
	if root.RunE == nil {
		t.Fatal("root command should run serve when no subcommand is given")
	}
}

func TestPolicyCommand_PrintsDefaultTransitions(t *testing.T) {
	t.Setenv("POLICY_FILE", "")

	root := NewRootCommand(io.Discard)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"policy"})

	if err := root.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !strings.Contains(out.String(), "roles.promote.EMPLOYEE") {
		t.Errorf("expected transition listing, got %s", out.String())
	}
	if !strings.Contains(out.String(), `"User is now employee"`) {
		t.Errorf("expected message in listing, got %s", out.String())
	}
}

func TestPolicyCommand_InvalidFileFails(t *testing.T) {
	root := NewRootCommand(io.Discard)
	root.SetOut(io.Discard)
	root.SetArgs([]string{"policy", "--file", filepath.Join(t.TempDir(), "missing.yaml")})

	if err := root.Execute(); err == nil {
		t.Fatal("expected error for missing policy file")
	}
}

func TestCommandString(t *testing.T) {
	tests := []struct {
		cmd  Command
		want string
	}{
		{CommandServe, "serve"},
		{CommandWorker, "worker"},
		{CommandMigrate, "migrate"},
		{CommandAudit, "audit"},
	}

	for _, tt := range tests {
		if got := string(tt.cmd); got != tt.want {
			t.Errorf("Command(%q) string = %q, want %q", tt.cmd, got, tt.want)
		}
	}
}

func TestMigrateCommand_HasDownFlag(t *testing.T) {
	root := NewRootCommand(io.Discard)
	cmd, _, err := root.Find([]string{"migrate"})
	if err != nil {
		t.Fatalf("Find(migrate) error = %v", err)
	}
	flag := cmd.Flags().Lookup("down")
	if flag == nil {
		t.Fatal("migrate should have a --down flag")
	}
	if flag.DefValue != "0" {
		t.Errorf("--down default = %s, want 0", flag.DefValue)
	}
}
