package render

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sourceplane/litepipe/internal/model"
	"gopkg.in/yaml.v3"
)

// Renderer serializes plans and run results
type Renderer struct{}

// NewRenderer creates a new renderer
func NewRenderer() *Renderer {
	return &Renderer{}
}

// RenderJSON renders plan as JSON
func (r *Renderer) RenderJSON(plan *model.Plan) ([]byte, error) {
	return json.MarshalIndent(plan, "", "  ")
}

// RenderYAML renders plan as YAML
func (r *Renderer) RenderYAML(plan *model.Plan) ([]byte, error) {
	return yaml.Marshal(plan)
}

// Render renders plan in the named format (json or yaml)
func (r *Renderer) Render(plan *model.Plan, format string) ([]byte, error) {
	switch strings.ToLower(format) {
	case "", "json":
		return r.RenderJSON(plan)
	case "yaml", "yml":
		return r.RenderYAML(plan)
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}

// WritePlan writes plan to file (JSON or YAML based on extension)
func (r *Renderer) WritePlan(plan *model.Plan, path string) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}

	format := "json"
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		format = "yaml"
	}

	data, err := r.Render(plan, format)
	if err != nil {
		return fmt.Errorf("failed to render plan: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write plan to %s: %w", path, err)
	}

	return nil
}

// ReadPlan loads a plan previously written by WritePlan
func (r *Renderer) ReadPlan(path string) (*model.Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan %s: %w", path, err)
	}

	var plan model.Plan
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &plan)
	default:
		err = json.Unmarshal(data, &plan)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse plan %s: %w", path, err)
	}
	return &plan, nil
}

// DebugDump outputs debug information about the plan
func (r *Renderer) DebugDump(plan *model.Plan) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Plan: %s (%s)\n", plan.Metadata.Name, plan.Metadata.Source)
	fmt.Fprintf(&sb, "Event: %s\n", plan.Event)
	fmt.Fprintf(&sb, "Jobs: %d\n\n", len(plan.Jobs))

	for _, job := range plan.Jobs {
		fmt.Fprintf(&sb, "Job: %s\n", job.Name)
		fmt.Fprintf(&sb, "  RunsOn: %s\n", job.RunsOn)
		fmt.Fprintf(&sb, "  Steps: %d\n", len(job.Steps))
		if job.TimeoutMinutes > 0 {
			fmt.Fprintf(&sb, "  Timeout: %dm\n", job.TimeoutMinutes)
		}
		for i, step := range job.Steps {
			fmt.Fprintf(&sb, "    %d. [%s] %s\n", i+1, step.Kind, step.Command)
		}
		sb.WriteString("\n")
	}

	return sb.String()
}
