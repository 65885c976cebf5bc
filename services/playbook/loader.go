// Package playbook loads YAML playbooks and executes their steps against
// role-mapped language models.
package playbook

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/avaprime/spooky-logic/services"
	"gopkg.in/yaml.v3"
)

// Step actions
const (
	ActionRoute    = "route"
	ActionRetrieve = "retrieve"
	ActionSolve    = "solve"
	ActionValidate = "validate"
	ActionDecide   = "decide"
)

var namePattern = regexp.MustCompile(`^[A-Za-z0-9_\-]+$`)

// Step is one "action: parameter" entry of a playbook
type Step struct {
	Action string `json:"action"`
	Param  string `json:"param"`
}

// UnmarshalYAML decodes a single-key mapping
func (s *Step) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode || len(node.Content) != 2 {
		return fmt.Errorf("line %d: playbook step must be a single key mapping", node.Line)
	}
	s.Action = node.Content[0].Value
	s.Param = node.Content[1].Value
	return nil
}

// MarshalYAML encodes the step as a single-key mapping
func (s Step) MarshalYAML() (interface{}, error) {
	return map[string]string{s.Action: s.Param}, nil
}

// Playbook is an ordered list of steps
type Playbook struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Tenant      string `yaml:"tenant,omitempty" json:"tenant,omitempty"`
	Steps       []Step `yaml:"steps" json:"steps"`
}

// Info describes a playbook in listings
type Info struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Steps       int    `json:"steps"`
}

// Loader reads playbooks from <dir>/<name>.yaml
type Loader struct {
	dir string
}

// NewLoader creates a Loader over dir
func NewLoader(dir string) *Loader {
	return &Loader{dir: dir}
}

// Load reads and parses the named playbook
func (l *Loader) Load(name string) (*Playbook, error) {
	if !namePattern.MatchString(name) {
		return nil, services.NewValidation(fmt.Sprintf("invalid playbook name %q", name))
	}

	raw, err := os.ReadFile(filepath.Join(l.dir, name+".yaml"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, services.NewNotFound("playbook not found", name)
		}
		return nil, fmt.Errorf("failed to read playbook %s: %w", name, err)
	}

	var pb Playbook
	if err := yaml.Unmarshal(raw, &pb); err != nil {
		return nil, services.NewDomainError(services.ErrorTypeValidation,
			fmt.Sprintf("invalid playbook %s", name), err)
	}
	if pb.Name == "" {
		pb.Name = name
	}
	return &pb, nil
}

// List returns every playbook in the directory ordered by name. Files that
// fail to parse are skipped.
func (l *Loader) List() ([]Info, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []Info{}, nil
		}
		return nil, fmt.Errorf("failed to list playbooks: %w", err)
	}

	out := []Info{}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") {
			continue
		}
		pb, err := l.Load(strings.TrimSuffix(e.Name(), ".yaml"))
		if err != nil {
			continue
		}
		out = append(out, Info{Name: pb.Name, Description: pb.Description, Steps: len(pb.Steps)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
