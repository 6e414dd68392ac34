package dbt

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

const projectFile = "dbt_project.yml"

// Resource is one line of `dbt list --output json`.
type Resource struct {
	Name             string         `json:"name"`
	ResourceType     ResourceType   `json:"resource_type"`
	PackageName      string         `json:"package_name"`
	OriginalFilePath string         `json:"original_file_path"`
	UniqueID         string         `json:"unique_id"`
	SourceName       string         `json:"source_name,omitempty"`
	Config           map[string]any `json:"config,omitempty"`
	// OriginalConfig is the table block from the source YAML file. Only set
	// for sources whose file could be resolved.
	OriginalConfig *SourceTable `json:"-"`
}

// SourcesFile mirrors a dbt sources YAML document.
type SourcesFile struct {
	Version int      `yaml:"version"`
	Sources []Source `yaml:"sources"`
}

type Source struct {
	Name   string        `yaml:"name"`
	Tables []SourceTable `yaml:"tables"`
}

type SourceTable struct {
	Name    string         `yaml:"name"`
	Columns []SourceColumn `yaml:"columns"`
	Meta    map[string]any `yaml:"meta"`
}

type SourceColumn struct {
	Name     string         `yaml:"name"`
	DataType string         `yaml:"data_type"`
	Meta     map[string]any `yaml:"meta"`
}

// ColumnNames returns the declared column names in file order.
func (t SourceTable) ColumnNames() []string {
	out := make([]string, 0, len(t.Columns))
	for _, col := range t.Columns {
		out = append(out, col.Name)
	}
	return out
}

// Project is a dbt project directory.
type Project struct {
	Dir         string
	ProfilesDir string
	Target      string
	Fs          afero.Fs
	Runner      Runner
}

func (p Project) fs() afero.Fs {
	if p.Fs == nil {
		return afero.NewOsFs()
	}
	return p.Fs
}

// Name reads the project name from dbt_project.yml.
func (p Project) Name() (string, error) {
	path := filepath.Join(p.Dir, projectFile)
	payload, err := afero.ReadFile(p.fs(), path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	var doc struct {
		Name string `yaml:"name"`
	}
	if err := yaml.Unmarshal(payload, &doc); err != nil {
		return "", fmt.Errorf("parse %s: %w", path, err)
	}
	if doc.Name == "" {
		return "", fmt.Errorf("%s has no name", path)
	}
	return doc.Name, nil
}

// ListResources runs `dbt list` and decodes its JSON output. Sources get
// their table block from the YAML file that declares them.
func (p Project) ListResources(ctx context.Context, selector string, types ...ResourceType) ([]Resource, error) {
	if p.Runner == nil {
		return nil, errors.New("dbt runner is required")
	}
	if len(types) == 0 {
		types = []ResourceType{ResourceModel, ResourceSeed, ResourceSource}
	}
	args, err := ListCommand(ListOptions{
		CommonOptions: CommonOptions{
			ProfilesDir: p.ProfilesDir,
			ProjectDir:  p.Dir,
			FailFast:    true,
			Quiet:       true,
			Select:      selector,
			Target:      p.Target,
		},
		Output:        "json",
		ResourceTypes: types,
	})
	if err != nil {
		return nil, err
	}
	output, err := p.Runner.Run(ctx, p.Dir, args)
	if err != nil {
		return nil, err
	}
	resources, err := ParseResources(output)
	if err != nil {
		return nil, err
	}
	if err := p.attachSourceConfigs(resources); err != nil {
		return nil, err
	}
	return resources, nil
}

// ParseResources decodes JSON lines, skipping anything that is not an object.
func ParseResources(output []byte) ([]Resource, error) {
	var out []Resource
	scanner := bufio.NewScanner(bytes.NewReader(output))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "{") {
			continue
		}
		var resource Resource
		if err := json.Unmarshal([]byte(line), &resource); err != nil {
			return nil, fmt.Errorf("decode dbt resource: %w", err)
		}
		out = append(out, resource)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read dbt output: %w", err)
	}
	return out, nil
}

func (p Project) attachSourceConfigs(resources []Resource) error {
	var projectName string
	cache := make(map[string]*SourcesFile)
	for i := range resources {
		resource := &resources[i]
		if resource.ResourceType != ResourceSource {
			continue
		}
		if projectName == "" {
			name, err := p.Name()
			if err != nil {
				return err
			}
			projectName = name
		}
		path, ok, err := p.resourcePath(projectName, *resource)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		doc, cached := cache[path]
		if !cached {
			doc, err = p.readSources(path)
			if err != nil {
				return err
			}
			cache[path] = doc
		}
		resource.OriginalConfig = doc.table(resource.SourceName, resource.Name)
	}
	return nil
}

// resourcePath locates the file declaring a resource. Resources from
// installed packages live under dbt_packages.
func (p Project) resourcePath(projectName string, resource Resource) (string, bool, error) {
	if resource.OriginalFilePath == "" {
		return "", false, nil
	}
	path := filepath.Join(p.Dir, resource.OriginalFilePath)
	if resource.PackageName != projectName {
		path = filepath.Join(p.Dir, "dbt_packages", resource.OriginalFilePath)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yml", ".yaml":
	default:
		return "", false, nil
	}
	ok, err := afero.Exists(p.fs(), path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", false, fmt.Errorf("stat %s: %w", path, err)
	}
	return path, ok, nil
}

func (p Project) readSources(path string) (*SourcesFile, error) {
	payload, err := afero.ReadFile(p.fs(), path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var doc SourcesFile
	if err := yaml.Unmarshal(payload, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &doc, nil
}

func (f *SourcesFile) table(sourceName, tableName string) *SourceTable {
	for _, source := range f.Sources {
		if source.Name != sourceName {
			continue
		}
		for i := range source.Tables {
			if source.Tables[i].Name == tableName {
				table := source.Tables[i]
				return &table
			}
		}
	}
	return nil
}
