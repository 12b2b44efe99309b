// Package project holds the project model consumed by the content
// pipeline: JSON project descriptors, the item add/remove event bus and
// the file-ownership registry.
package project

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/xeipuuv/gojsonschema"

	"github.com/symbolindex/indexd/pkg/content"
)

// Project is one indexable project: identity, assembly metadata and the
// declared items (source files and references).
type Project struct {
	ID           string
	Name         string
	Path         string
	AssemblyName string
	OutputPath   string
	Settings     content.CompilerSettings
	Items        []content.ProjectItem
}

// SourceFiles returns the paths of all compile items.
func (p *Project) SourceFiles() []string {
	var files []string
	for _, it := range p.Items {
		if it.Kind == content.ItemCompile {
			files = append(files, it.Path)
		}
	}
	return files
}

// Seed converts the project into the container construction seed.
func (p *Project) Seed() content.Seed {
	return content.Seed{
		ProjectID:    p.ID,
		ProjectName:  p.Name,
		ProjectPath:  p.Path,
		AssemblyName: p.AssemblyName,
		OutputPath:   p.OutputPath,
		Settings:     p.Settings,
		Items:        append([]content.ProjectItem(nil), p.Items...),
	}
}

// descriptorSchema validates project descriptor documents before decoding.
const descriptorSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["name"],
  "properties": {
    "id": {"type": "string"},
    "name": {"type": "string", "minLength": 1},
    "assembly_name": {"type": "string"},
    "output_path": {"type": "string"},
    "compiler_settings": {
      "type": "object",
      "properties": {
        "language_version": {"type": "string"},
        "platform": {"type": "string"},
        "defines": {"type": "string"}
      },
      "additionalProperties": false
    },
    "items": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["kind"],
        "properties": {
          "kind": {"enum": ["compile", "reference", "projectreference"]},
          "path": {"type": "string"},
          "name": {"type": "string"},
          "project_id": {"type": "string"}
        },
        "additionalProperties": false
      }
    }
  },
  "additionalProperties": false
}`

type descriptorDoc struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	AssemblyName     string `json:"assembly_name"`
	OutputPath       string `json:"output_path"`
	CompilerSettings struct {
		LanguageVersion string `json:"language_version"`
		Platform        string `json:"platform"`
		Defines         string `json:"defines"`
	} `json:"compiler_settings"`
	Items []struct {
		Kind      string `json:"kind"`
		Path      string `json:"path"`
		Name      string `json:"name"`
		ProjectID string `json:"project_id"`
	} `json:"items"`
}

// LoadDescriptor reads and validates a project descriptor file. Relative
// item paths are resolved against the descriptor's directory. A missing id
// gets a fresh uuid.
func LoadDescriptor(path string) (*Project, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read project descriptor: %w", err)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(descriptorSchema),
		gojsonschema.NewBytesLoader(data),
	)
	if err != nil {
		return nil, fmt.Errorf("validate project descriptor %s: %w", path, err)
	}
	if !result.Valid() {
		return nil, fmt.Errorf("invalid project descriptor %s: %s", path, formatSchemaErrors(result))
	}

	var doc descriptorDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode project descriptor %s: %w", path, err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	dir := filepath.Dir(abs)

	p := &Project{
		ID:           doc.ID,
		Name:         doc.Name,
		Path:         abs,
		AssemblyName: doc.AssemblyName,
		OutputPath:   doc.OutputPath,
		Settings: content.CompilerSettings{
			LanguageVersion: doc.CompilerSettings.LanguageVersion,
			Platform:        doc.CompilerSettings.Platform,
			Defines:         doc.CompilerSettings.Defines,
		},
	}
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.AssemblyName == "" {
		p.AssemblyName = p.Name
	}

	for _, it := range doc.Items {
		item := content.ProjectItem{
			Name:      it.Name,
			ProjectID: it.ProjectID,
		}
		switch it.Kind {
		case "compile":
			item.Kind = content.ItemCompile
		case "reference":
			item.Kind = content.ItemAssemblyReference
		case "projectreference":
			item.Kind = content.ItemProjectReference
		}
		if it.Path != "" {
			item.Path = it.Path
			if !filepath.IsAbs(item.Path) {
				item.Path = filepath.Join(dir, item.Path)
			}
		}
		p.Items = append(p.Items, item)
	}
	return p, nil
}

func formatSchemaErrors(result *gojsonschema.Result) string {
	msg := ""
	for i, desc := range result.Errors() {
		if i > 0 {
			msg += "; "
		}
		msg += desc.String()
	}
	return msg
}
