package runtime

import (
	"fmt"
	"os/exec"
	"strings"
	"sync"
)

// ContainerFilesDir is where injected files land inside a container.
const ContainerFilesDir = "/workspace/.discode/files"

// ContainerCommand wraps an agent command line so it runs inside an
// existing container while still producing PTY I/O on the local docker
// client process.
func ContainerCommand(containerID, commandLine string) string {
	return fmt.Sprintf("docker exec -it %s sh -c %s", containerID, shellQuote(commandLine))
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// Injector copies files into containers. Calls are serialized per
// container id: concurrent docker cp into one container corrupts syncs.
type Injector struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewInjector creates an Injector.
func NewInjector() *Injector {
	return &Injector{locks: make(map[string]*sync.Mutex)}
}

func (in *Injector) lockFor(containerID string) *sync.Mutex {
	in.mu.Lock()
	defer in.mu.Unlock()
	l, ok := in.locks[containerID]
	if !ok {
		l = &sync.Mutex{}
		in.locks[containerID] = l
	}
	return l
}

// InjectFile copies a local file into the container's files directory.
func (in *Injector) InjectFile(containerID, localPath string) error {
	l := in.lockFor(containerID)
	l.Lock()
	defer l.Unlock()

	mkdir := exec.Command("docker", "exec", containerID, "mkdir", "-p", ContainerFilesDir)
	if out, err := mkdir.CombinedOutput(); err != nil {
		return fmt.Errorf("mkdir in container %s: %w (%s)", containerID, err, strings.TrimSpace(string(out)))
	}
	cp := exec.Command("docker", "cp", localPath, containerID+":"+ContainerFilesDir+"/")
	if out, err := cp.CombinedOutput(); err != nil {
		return fmt.Errorf("copy %s into container %s: %w (%s)", localPath, containerID, err, strings.TrimSpace(string(out)))
	}
	return nil
}
