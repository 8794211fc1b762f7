package loader

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sourceplane/litepipe/internal/model"
	"gopkg.in/yaml.v3"
)

// ParseDescriptor decodes a pipeline descriptor from YAML
func ParseDescriptor(data []byte) (*model.Descriptor, error) {
	var descriptor model.Descriptor
	if err := yaml.Unmarshal(data, &descriptor); err != nil {
		return nil, fmt.Errorf("failed to parse pipeline YAML: %w", err)
	}
	if len(descriptor.Jobs) == 0 {
		return nil, fmt.Errorf("pipeline declares no jobs")
	}
	return &descriptor, nil
}

// LoadDescriptor loads and parses a pipeline YAML file
func LoadDescriptor(path string) (*model.Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pipeline file: %w", err)
	}

	descriptor, err := ParseDescriptor(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	descriptor.Source = path
	if descriptor.Name == "" {
		descriptor.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	return descriptor, nil
}

// LoadRawDocument loads a YAML file as generic JSON-compatible data, the
// form the schema validator expects.
func LoadRawDocument(path string) (interface{}, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pipeline file: %w", err)
	}
	return ToJSONCompatible(data)
}

// ToJSONCompatible converts YAML bytes to the value tree encoding/json
// would produce for the same document.
func ToJSONCompatible(data []byte) (interface{}, error) {
	var doc interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	jsonData, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to convert YAML to JSON: %w", err)
	}

	var out interface{}
	if err := json.Unmarshal(jsonData, &out); err != nil {
		return nil, fmt.Errorf("failed to decode converted JSON: %w", err)
	}
	return out, nil
}

// LoadDescriptorsFromDir loads every pipeline file under a directory.
// Supports glob patterns:
//   - Exact path: non-recursive, only *.yml/*.yaml directly inside it
//   - Path with *: glob pattern, each match walked recursively
//
// Example paths:
//   - ".github/workflows"
//   - "pipelines/*"
func LoadDescriptorsFromDir(dir string) (map[string]*model.Descriptor, error) {
	isRecursive := strings.Contains(dir, "*")

	var files []string
	if isRecursive {
		matches, err := filepath.Glob(dir)
		if err != nil {
			return nil, fmt.Errorf("failed to evaluate glob pattern %s: %w", dir, err)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("glob pattern %s matched nothing", dir)
		}

		for _, basePath := range matches {
			err := filepath.Walk(basePath, func(path string, info os.FileInfo, err error) error {
				if err != nil {
					return err
				}
				if !info.IsDir() && isPipelineFile(path) {
					files = append(files, path)
				}
				return nil
			})
			if err != nil {
				return nil, fmt.Errorf("failed to walk directory %s: %w", basePath, err)
			}
		}
	} else {
		info, err := os.Stat(dir)
		if err != nil {
			return nil, fmt.Errorf("failed to access pipeline directory %s: %w", dir, err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("pipeline path is not a directory: %s", dir)
		}

		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, fmt.Errorf("failed to read directory %s: %w", dir, err)
		}
		for _, entry := range entries {
			if entry.IsDir() || !isPipelineFile(entry.Name()) {
				continue
			}
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}

	if len(files) == 0 {
		return nil, fmt.Errorf("no pipeline files found in %s", dir)
	}
	sort.Strings(files)

	descriptors := make(map[string]*model.Descriptor, len(files))
	for _, path := range files {
		descriptor, err := LoadDescriptor(path)
		if err != nil {
			return nil, err
		}
		if existing, ok := descriptors[descriptor.Name]; ok {
			return nil, fmt.Errorf("pipeline name %q declared by both %s and %s", descriptor.Name, existing.Source, path)
		}
		descriptors[descriptor.Name] = descriptor
	}

	return descriptors, nil
}

func isPipelineFile(path string) bool {
	switch filepath.Ext(path) {
	case ".yml", ".yaml":
		return true
	}
	return false
}
