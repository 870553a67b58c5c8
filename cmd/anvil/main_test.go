package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestRootCommandRegistersSubcommands(t *testing.T) {
	root := buildRootCmd()

	want := []string{"run", "resume", "trace", "threads", "version"}
	for _, name := range want {
		found := false
		for _, cmd := range root.Commands() {
			if cmd.Name() == name {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("subcommand %q not registered", name)
		}
	}
}

func TestVersionCommand(t *testing.T) {
	root := buildRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})

	if err := root.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(out.String(), "anvil") {
		t.Errorf("version output = %q", out.String())
	}
}

func TestRunRequiresPrompt(t *testing.T) {
	root := buildRootCmd()
	root.SetOut(new(bytes.Buffer))
	root.SetErr(new(bytes.Buffer))
	root.SetArgs([]string{"run"})

	if err := root.Execute(); err == nil {
		t.Fatal("expected missing-prompt error")
	}
}

func TestResumeRequiresThread(t *testing.T) {
	root := buildRootCmd()
	root.SetOut(new(bytes.Buffer))
	root.SetErr(new(bytes.Buffer))
	root.SetArgs([]string{"resume", "run-1"})

	err := root.Execute()
	if err == nil || !strings.Contains(err.Error(), "--thread") {
		t.Fatalf("error = %v, want --thread requirement", err)
	}
}
