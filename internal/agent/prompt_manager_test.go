package agent

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writePrompts(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestPromptManager_Role(t *testing.T) {
	dir := writePrompts(t, map[string]string{
		"user.md":         "User Content",
		"identity.md":     "Identity Content",
		"capabilities.md": "Capabilities Content",
		"soul.md":         "Soul Content",
		"worker.md":       "Worker Content",
		"planner.md":      "Planner Content",
	})

	pm, err := NewPromptManager(dir, 0)
	if err != nil {
		t.Fatal(err)
	}
	prompt, err := pm.Role(RoleWorker)
	if err != nil {
		t.Fatal(err)
	}

	order := []string{"Identity Content", "Soul Content", "Capabilities Content", "User Content", "Worker Content"}
	last := -1
	for _, part := range order {
		idx := strings.Index(prompt, part)
		if idx < 0 {
			t.Fatalf("prompt missing %q", part)
		}
		if idx <= last {
			t.Errorf("%q out of order", part)
		}
		last = idx
	}
	if strings.Contains(prompt, "Planner Content") {
		t.Error("worker prompt must not include the planner file")
	}
}

func TestPromptManager_DefaultsAndCache(t *testing.T) {
	dir := writePrompts(t, map[string]string{"identity.md": "Identity Content"})

	pm, err := NewPromptManager(dir, 0)
	if err != nil {
		t.Fatal(err)
	}
	prompt, err := pm.Role(RoleResponder)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(prompt, defaultInstructions[RoleResponder]) {
		t.Error("expected built-in responder instructions")
	}

	if err := os.WriteFile(filepath.Join(dir, "responder.md"), []byte("Custom Responder"), 0644); err != nil {
		t.Fatal(err)
	}
	cached, _ := pm.Role(RoleResponder)
	if cached != prompt {
		t.Error("expected cached prompt before invalidation")
	}

	pm.Invalidate()
	fresh, _ := pm.Role(RoleResponder)
	if !strings.Contains(fresh, "Custom Responder") {
		t.Error("expected edited prompt after invalidation")
	}
}

func TestPromptManager_MissingDirectory(t *testing.T) {
	pm, err := NewPromptManager(filepath.Join(t.TempDir(), "absent"), 0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := pm.Role(RolePlanner); err != nil {
		t.Fatalf("expected defaults without a prompts directory, got %v", err)
	}
	if _, err := pm.Role("unknown"); err == nil {
		t.Error("expected an error for a role without instructions")
	}
}
