// Package action resolves `uses:` step references into shell commands.
package action

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"text/template"

	"github.com/kballard/go-shellquote"
	"github.com/sourceplane/litepipe/internal/model"
)

// ErrUnknownAction is returned when no action is registered under a name
var ErrUnknownAction = errors.New("unknown action")

// Action renders a step's inputs into a shell command line
type Action interface {
	Command(inputs map[string]string) (string, error)
}

// Func adapts a plain function to the Action interface
type Func func(inputs map[string]string) (string, error)

// Command calls f(inputs)
func (f Func) Command(inputs map[string]string) (string, error) {
	return f(inputs)
}

// Info describes an action for listing and input validation
type Info struct {
	Name        string
	Description string
	Builtin     bool
	Template    string
	Inputs      []Input
}

// Input describes a single action input
type Input struct {
	Name        string
	Description string
	Required    bool
	Default     string
}

type entry struct {
	info   Info
	action Action
}

// Registry holds the actions steps may reference
type Registry struct {
	mu      sync.RWMutex
	actions map[string]entry
}

// NewRegistry creates a registry preloaded with the built-in actions
func NewRegistry() *Registry {
	r := &Registry{actions: make(map[string]entry)}
	for _, b := range builtins() {
		r.actions[b.info.Name] = b
	}
	return r
}

// Register adds or replaces an action
func (r *Registry) Register(info Info, action Action) error {
	if info.Name == "" || !strings.Contains(info.Name, "/") {
		return fmt.Errorf("action name %q must be owner/name", info.Name)
	}
	if action == nil {
		return fmt.Errorf("action %s has no implementation", info.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions[info.Name] = entry{info: info, action: action}
	return nil
}

// RegisterTemplate adds an action whose command is a text/template rendered
// with the step inputs, e.g. "make {{ .target }}". The template is parsed
// once here and reused for every step referencing the action.
func (r *Registry) RegisterTemplate(name, command string) error {
	tmpl, err := template.New(name).
		Option("missingkey=zero").
		Funcs(template.FuncMap{
			"quote": func(s string) string { return shellquote.Join(s) },
			"default": func(def, value string) string {
				if value == "" {
					return def
				}
				return value
			},
		}).
		Parse(command)
	if err != nil {
		return fmt.Errorf("invalid template for action %s: %w", name, err)
	}

	render := Func(func(inputs map[string]string) (string, error) {
		var buf strings.Builder
		if err := tmpl.Execute(&buf, inputs); err != nil {
			return "", fmt.Errorf("failed to execute template for action %s: %w", name, err)
		}
		return strings.TrimSpace(buf.String()), nil
	})

	return r.Register(Info{
		Name:        name,
		Description: "template action",
		Template:    command,
	}, render)
}

// Command resolves a `uses:` reference and renders its command
func (r *Registry) Command(uses string, inputs map[string]string) (string, error) {
	ref, err := model.ParseActionRef(uses)
	if err != nil {
		return "", err
	}

	r.mu.RLock()
	e, ok := r.actions[ref.Name]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownAction, ref.Name)
	}

	resolved := make(map[string]string, len(inputs))
	for k, v := range inputs {
		resolved[k] = v
	}
	for _, input := range e.info.Inputs {
		if _, set := resolved[input.Name]; !set && input.Default != "" {
			resolved[input.Name] = input.Default
		}
		if input.Required && resolved[input.Name] == "" {
			return "", fmt.Errorf("action %s: input %s is required", ref.Name, input.Name)
		}
	}

	command, err := e.action.Command(resolved)
	if err != nil {
		return "", fmt.Errorf("action %s: %w", ref.Name, err)
	}
	return command, nil
}

// Lookup returns the description of a registered action
func (r *Registry) Lookup(name string) (Info, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.actions[name]
	return e.info, ok
}

// List returns all registered actions sorted by name
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]Info, 0, len(r.actions))
	for _, e := range r.actions {
		infos = append(infos, e.info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}
