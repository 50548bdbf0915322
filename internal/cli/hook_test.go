package cli

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

func TestGenerateHookScript(t *testing.T) {
	script := generateHookScript("error", "text", false)

	if !strings.Contains(script, hookMarkerStart) {
		t.Error("Script missing start marker")
	}
	if !strings.Contains(script, hookMarkerEnd) {
		t.Error("Script missing end marker")
	}
	if !strings.Contains(script, "gauntlet review staged --fail-on error --format text\n") {
		t.Error("Script missing gauntlet command with correct flags")
	}
	if !strings.Contains(script, "GAUNTLET_EXIT=$?") {
		t.Error("Script missing exit code capture")
	}
	if !strings.Contains(script, "exit 1") {
		t.Error("Script missing exit 1 for findings")
	}
	if !strings.Contains(script, "allowing commit") {
		t.Error("Script missing warning for errors")
	}
}

func TestGenerateHookScript_CustomFlags(t *testing.T) {
	script := generateHookScript("warning", "json", true)

	if !strings.Contains(script, "--fail-on warning") {
		t.Error("Script doesn't use custom fail-on")
	}
	if !strings.Contains(script, "--format json") {
		t.Error("Script doesn't use custom format")
	}
	if !strings.Contains(script, "--strict") {
		t.Error("Script doesn't pass --strict")
	}
}

func TestReplaceHookSection_NoExisting(t *testing.T) {
	existing := "#!/bin/sh\nsome-other-hook\n"
	section := generateHookScript("error", "text", false)

	result := replaceHookSection(existing, section)

	if !strings.HasPrefix(result, "#!/bin/sh\nsome-other-hook\n") {
		t.Error("Existing content should be preserved")
	}
	if !strings.Contains(result, hookMarkerStart) {
		t.Error("New section should be appended")
	}
}

func TestReplaceHookSection_ExistingSection(t *testing.T) {
	oldSection := generateHookScript("note", "text", false)
	existing := "#!/bin/sh\nbefore\n" + oldSection + "after\n"
	newSection := generateHookScript("error", "json", false)

	result := replaceHookSection(existing, newSection)

	if !strings.Contains(result, "before") {
		t.Error("Content before gauntlet section should be preserved")
	}
	if !strings.Contains(result, "after") {
		t.Error("Content after gauntlet section should be preserved")
	}
	if !strings.Contains(result, "--fail-on error") {
		t.Error("New section should have updated flags")
	}
	if strings.Contains(result, "--fail-on note") {
		t.Error("Old section should be replaced")
	}
}

func TestRemoveHookSection(t *testing.T) {
	section := generateHookScript("error", "text", false)
	existing := "#!/bin/sh\nbefore\n" + section + "after\n"

	result := removeHookSection(existing)

	if strings.Contains(result, hookMarkerStart) {
		t.Error("Gauntlet section should be removed")
	}
	if result != "#!/bin/sh\nbefore\nafter\n" {
		t.Errorf("result = %q", result)
	}
}

func TestRemoveHookSection_NoSection(t *testing.T) {
	existing := "#!/bin/sh\nsome-hook\n"
	if result := removeHookSection(existing); result != existing {
		t.Error("Content without gauntlet section should be unchanged")
	}
}

func TestReplaceHookSection_NoTrailingNewline(t *testing.T) {
	existing := "#!/bin/sh\nsome-hook"
	section := generateHookScript("error", "text", false)

	result := replaceHookSection(existing, section)

	if !strings.HasPrefix(result, "#!/bin/sh\nsome-hook\n"+hookMarkerStart) {
		t.Errorf("Section should be appended on a new line, got %q", result)
	}
}

func TestHookInstallUninstall(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
	dir := t.TempDir()
	if out, err := exec.Command("git", "init", dir).CombinedOutput(); err != nil {
		t.Fatalf("git init: %v: %s", err, out)
	}
	hookPath := filepath.Join(dir, ".git", "hooks", "pre-commit")

	if _, _, err := execute(t, "", "hook", "install", "-w", dir, "--fail-on", "warning"); err != nil {
		t.Fatalf("hook install: %v", err)
	}
	data, err := os.ReadFile(hookPath)
	if err != nil {
		t.Fatalf("hook not written: %v", err)
	}
	if !strings.HasPrefix(string(data), "#!/bin/sh\n"+hookMarkerStart) {
		t.Errorf("hook = %q", data)
	}
	if !strings.Contains(string(data), "--fail-on warning") {
		t.Error("hook should use the requested threshold")
	}

	out, _, err := execute(t, "", "hook", "status", "-w", dir)
	if err != nil {
		t.Fatalf("hook status: %v", err)
	}
	if !strings.HasPrefix(out, "installed: ") {
		t.Errorf("status = %q", out)
	}

	if _, _, err := execute(t, "", "hook", "uninstall", "-w", dir); err != nil {
		t.Fatalf("hook uninstall: %v", err)
	}
	if _, err := os.Stat(hookPath); !os.IsNotExist(err) {
		t.Errorf("hook file should be removed, stat err = %v", err)
	}
}

func TestHookInstall_RejectsBadThreshold(t *testing.T) {
	if _, _, err := execute(t, "", "hook", "install", "--fail-on", "urgent"); err == nil {
		t.Error("expected an error for an unknown threshold")
	}
}

func TestUninstallHook_KeepsOtherCommands(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pre-commit")
	content := "#!/bin/sh\nmake lint\n" + generateHookScript("error", "text", false)
	if err := os.WriteFile(path, []byte(content), 0o755); err != nil {
		t.Fatal(err)
	}

	result, err := uninstallHook(path)
	if err != nil {
		t.Fatalf("uninstallHook: %v", err)
	}
	if result != hookEdited {
		t.Errorf("result = %v, want hookEdited", result)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "#!/bin/sh\nmake lint\n" {
		t.Errorf("hook = %q", data)
	}

	result, err = uninstallHook(filepath.Join(t.TempDir(), "missing"))
	if err != nil || result != hookMissing {
		t.Errorf("missing hook: result = %v, err = %v", result, err)
	}
}
