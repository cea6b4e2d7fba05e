package definition

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/raybeam/relay/internal/domain"
)

// Document is the on-disk shape of a definition file: any mix of workflow
// definitions and reducer transition tables.
type Document struct {
	Workflows []domain.WorkflowDefinition `yaml:"workflows"`
	Reducers  []domain.TransitionTable    `yaml:"reducers"`
}

// Load parses and validates a definition document. Validation failures are
// configuration errors: they halt startup of the affected workflow or
// reducer and are never recovered at runtime. Ambiguous transition tables
// are rejected here with the conflicting rows named, so evaluation never has
// to disambiguate.
func Load(r io.Reader) (*Document, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, domain.NewConfigurationError("failed to read definition document", err)
	}

	var doc Document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, domain.NewConfigurationError("failed to parse definition document", err)
	}

	if len(doc.Workflows) == 0 && len(doc.Reducers) == 0 {
		return nil, domain.NewConfigurationError("definition document contains no workflows or reducers", nil)
	}

	seenWorkflows := make(map[string]struct{}, len(doc.Workflows))
	for i := range doc.Workflows {
		wf := &doc.Workflows[i]
		applyWorkflowDefaults(wf)
		if err := wf.Validate(); err != nil {
			return nil, err
		}
		if _, dup := seenWorkflows[wf.Name]; dup {
			return nil, domain.NewConfigurationError(
				fmt.Sprintf("duplicate workflow definition %q", wf.Name), nil)
		}
		seenWorkflows[wf.Name] = struct{}{}
	}

	seenReducers := make(map[string]struct{}, len(doc.Reducers))
	for i := range doc.Reducers {
		table := &doc.Reducers[i]
		if err := table.Validate(); err != nil {
			return nil, err
		}
		if _, dup := seenReducers[table.Name]; dup {
			return nil, domain.NewConfigurationError(
				fmt.Sprintf("duplicate reducer definition %q", table.Name), nil)
		}
		seenReducers[table.Name] = struct{}{}
	}

	return &doc, nil
}

func LoadFile(path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, domain.NewConfigurationError("failed to open definition file "+path, err)
	}
	defer f.Close()
	return Load(f)
}

func applyWorkflowDefaults(wf *domain.WorkflowDefinition) {
	if wf.Mode == "" {
		wf.Mode = domain.ModeSequential
	}
	if wf.Recovery == "" {
		wf.Recovery = domain.RecoveryRetry
	}
}
