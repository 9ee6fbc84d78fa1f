// Package state holds the persisted project records the bridge consumes.
//
// Records are read from a YAML file and treated as read-through: the core
// reloads snapshots at the store boundary and writes only via SetProject.
package state

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// RuntimeTypeSDK marks instances driven by an in-process SDK runner
// instead of a PTY window.
const RuntimeTypeSDK = "sdk"

// Instance is one agent instance inside a project.
type Instance struct {
	AgentType     string `yaml:"agentType" json:"agentType"`
	TmuxWindow    string `yaml:"tmuxWindow" json:"tmuxWindow"`
	ChannelID     string `yaml:"channelId" json:"channelId"`
	ContainerMode bool   `yaml:"containerMode,omitempty" json:"containerMode,omitempty"`
	ContainerID   string `yaml:"containerId,omitempty" json:"containerId,omitempty"`
	RuntimeType   string `yaml:"runtimeType,omitempty" json:"runtimeType,omitempty"`
	CommandLine   string `yaml:"commandLine,omitempty" json:"commandLine,omitempty"`
}

// Project is one project record.
type Project struct {
	ProjectName string              `yaml:"projectName" json:"projectName"`
	ProjectPath string              `yaml:"projectPath" json:"projectPath"`
	TmuxSession string              `yaml:"tmuxSession" json:"tmuxSession"`
	Instances   map[string]Instance `yaml:"instances" json:"instances"`
}

// PrimaryInstance returns the first instance of the given agent type. The
// instance id doubles as the map key.
func (p *Project) PrimaryInstance(agentType string) (string, *Instance, bool) {
	if inst, ok := p.Instances[agentType]; ok {
		return agentType, &inst, true
	}
	for id, inst := range p.Instances {
		if inst.AgentType == agentType {
			return id, &inst, true
		}
	}
	return "", nil, false
}

// Store is the project-record mapping.
type Store interface {
	GetProject(name string) (*Project, bool)
	Projects() []*Project
	SetProject(p *Project) error
	Reload() error
}

// FileStore reads records from a YAML document on disk.
type FileStore struct {
	path string

	mu       sync.RWMutex
	projects map[string]*Project
}

type stateFile struct {
	Projects map[string]*Project `yaml:"projects"`
}

// NewFileStore loads the store from path. A missing file yields an empty
// store (first run).
func NewFileStore(path string) (*FileStore, error) {
	s := &FileStore{path: path, projects: make(map[string]*Project)}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload replaces the in-memory snapshot from disk.
func (s *FileStore) Reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read state file: %w", err)
	}
	var f stateFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse state file: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projects = f.Projects
	if s.projects == nil {
		s.projects = make(map[string]*Project)
	}
	return nil
}

// GetProject returns the record for name.
func (s *FileStore) GetProject(name string) (*Project, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.projects[name]
	return p, ok
}

// Projects returns all records.
func (s *FileStore) Projects() []*Project {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Project, 0, len(s.projects))
	for _, p := range s.projects {
		out = append(out, p)
	}
	return out
}

// SetProject upserts a record and persists the store atomically.
func (s *FileStore) SetProject(p *Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projects[p.ProjectName] = p

	data, err := yaml.Marshal(stateFile{Projects: s.projects})
	if err != nil {
		return fmt.Errorf("encode state file: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}
