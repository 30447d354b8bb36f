package main

import (
	"errors"
	"testing"
)

func TestMainWiring(t *testing.T) {
	origSetVersion := setVersionInfo
	origExecute := executeCmd
	origExit := exit
	t.Cleanup(func() {
		setVersionInfo = origSetVersion
		executeCmd = origExecute
		exit = origExit
	})

	calls := struct {
		version bool
		exec    bool
	}{}
	exitCode := -1

	setVersionInfo = func(v, c, d string) {
		calls.version = true
		if v == "" || c == "" || d == "" {
			t.Fatalf("expected version info to be set")
		}
	}
	executeCmd = func() error {
		calls.exec = true
		return nil
	}
	exit = func(code int) { exitCode = code }

	main()

	if !calls.version || !calls.exec {
		t.Fatalf("expected all wiring calls, got %+v", calls)
	}
	if exitCode != -1 {
		t.Fatalf("exit called with %d on success", exitCode)
	}
}

func TestMainExitsOnError(t *testing.T) {
	origSetVersion := setVersionInfo
	origExecute := executeCmd
	origExit := exit
	t.Cleanup(func() {
		setVersionInfo = origSetVersion
		executeCmd = origExecute
		exit = origExit
	})

	setVersionInfo = func(string, string, string) {}
	executeCmd = func() error { return errors.New("boom") }
	exitCode := -1
	exit = func(code int) { exitCode = code }

	main()

	if exitCode != 1 {
		t.Fatalf("exit code = %d, want 1", exitCode)
	}
}
