package state

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleState = `
projects:
  myproj:
    projectName: myproj
    projectPath: /home/user/myproj
    tmuxSession: myproj
    instances:
      claude:
        agentType: claude
        tmuxWindow: main
        channelId: chan1
        commandLine: claude --continue
      worker:
        agentType: claude
        tmuxWindow: second
        channelId: chan2
        containerMode: true
        containerId: abc123
      bot:
        agentType: codex
        tmuxWindow: third
        channelId: chan3
        runtimeType: sdk
`

func writeState(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write state: %v", err)
	}
	return path
}

func TestFileStoreLoad(t *testing.T) {
	store, err := NewFileStore(writeState(t, sampleState))
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	p, ok := store.GetProject("myproj")
	if !ok {
		t.Fatal("project missing")
	}
	if p.ProjectPath != "/home/user/myproj" || p.TmuxSession != "myproj" {
		t.Errorf("project = %+v", p)
	}
	if len(p.Instances) != 3 {
		t.Fatalf("instances = %d, want 3", len(p.Instances))
	}
	inst := p.Instances["worker"]
	if !inst.ContainerMode || inst.ContainerID != "abc123" {
		t.Errorf("worker instance = %+v", inst)
	}
	if p.Instances["bot"].RuntimeType != RuntimeTypeSDK {
		t.Errorf("bot runtime type = %q", p.Instances["bot"].RuntimeType)
	}
}

func TestFileStoreMissingFile(t *testing.T) {
	store, err := NewFileStore(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("NewFileStore on missing file: %v", err)
	}
	if got := len(store.Projects()); got != 0 {
		t.Errorf("projects = %d, want 0", got)
	}
}

func TestFileStoreSetProjectPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.yaml")
	store, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	err = store.SetProject(&Project{
		ProjectName: "newproj",
		ProjectPath: "/tmp/newproj",
		TmuxSession: "newproj",
		Instances: map[string]Instance{
			"claude": {AgentType: "claude", TmuxWindow: "main", ChannelID: "c1"},
		},
	})
	if err != nil {
		t.Fatalf("SetProject: %v", err)
	}

	// A second store reading the same file sees the write.
	reread, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	p, ok := reread.GetProject("newproj")
	if !ok || p.Instances["claude"].ChannelID != "c1" {
		t.Errorf("persisted project = %+v ok=%v", p, ok)
	}
}

func TestPrimaryInstance(t *testing.T) {
	store, err := NewFileStore(writeState(t, sampleState))
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	p, _ := store.GetProject("myproj")

	// Key equal to agent type wins.
	id, inst, ok := p.PrimaryInstance("claude")
	if !ok || id != "claude" || inst.TmuxWindow != "main" {
		t.Errorf("primary claude = %q %+v ok=%v", id, inst, ok)
	}

	// Falls back to matching agentType under a different key.
	id, inst, ok = p.PrimaryInstance("codex")
	if !ok || id != "bot" || inst.RuntimeType != RuntimeTypeSDK {
		t.Errorf("primary codex = %q %+v ok=%v", id, inst, ok)
	}

	if _, _, ok := p.PrimaryInstance("gemini"); ok {
		t.Error("primary for unknown agent type succeeded")
	}
}

func TestReloadReplacesSnapshot(t *testing.T) {
	path := writeState(t, sampleState)
	store, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	updated := `
projects:
  other:
    projectName: other
    projectPath: /tmp/other
    tmuxSession: other
    instances: {}
`
	if err := os.WriteFile(path, []byte(updated), 0o600); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	if err := store.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if _, ok := store.GetProject("myproj"); ok {
		t.Error("stale project survived reload")
	}
	if _, ok := store.GetProject("other"); !ok {
		t.Error("new project missing after reload")
	}
}
