package templates

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/template"

	"hzinstall/pkg/fileutil"
)

// Extension is the file suffix shared by embedded and on-disk templates.
const Extension = ".template"

// Registry resolves templates by name. Files found in the search
// directories override the embedded defaults.
type Registry struct {
	defaults   fs.FS
	searchDirs []string
}

// DefaultSearchDirs returns the override directories in lookup order:
// 1. ./templates
// 2. ./config/templates
// 3. /etc/hzinstall/templates
func DefaultSearchDirs() []string {
	return []string{
		filepath.Join(".", "templates"),
		filepath.Join(".", "config", "templates"),
		filepath.Join("/etc", "hzinstall", "templates"),
	}
}

// New creates a registry over defaults, a filesystem holding <name>.template
// files at its root. With no searchDirs, DefaultSearchDirs is used.
func New(defaults fs.FS, searchDirs ...string) *Registry {
	if len(searchDirs) == 0 {
		searchDirs = DefaultSearchDirs()
	}
	return &Registry{defaults: defaults, searchDirs: searchDirs}
}

// Paths returns the on-disk override paths for a template.
func (r *Registry) Paths(name string) []string {
	paths := make([]string, 0, len(r.searchDirs))
	for _, dir := range r.searchDirs {
		paths = append(paths, filepath.Join(dir, name+Extension))
	}
	return paths
}

// Get returns the raw template content by name.
func (r *Registry) Get(name string) (string, error) {
	if !r.Has(name) {
		return "", fmt.Errorf("unknown template: %s", name)
	}

	if path := fileutil.SearchPathsOptional(r.Paths(name)); path != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("failed to read template override %s: %w", path, err)
		}
		return string(content), nil
	}

	content, err := fs.ReadFile(r.defaults, name+Extension)
	if err != nil {
		return "", fmt.Errorf("failed to read embedded template %s: %w", name, err)
	}
	return string(content), nil
}

// Has reports whether an embedded default exists for name.
// Overrides can only replace known templates, never add new ones.
func (r *Registry) Has(name string) bool {
	if name == "" || strings.ContainsAny(name, `/\`) {
		return false
	}
	_, err := fs.Stat(r.defaults, name+Extension)
	return err == nil
}

// List returns the names of all embedded templates, sorted.
func (r *Registry) List() []string {
	matches, err := fs.Glob(r.defaults, "*"+Extension)
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, strings.TrimSuffix(m, Extension))
	}
	sort.Strings(names)
	return names
}

// RenderWithGoTemplate renders a template using Go's text/template package.
// Output is not escaped: values are written exactly as given.
func (r *Registry) RenderWithGoTemplate(name string, data any) (string, error) {
	tmplContent, err := r.Get(name)
	if err != nil {
		return "", err
	}

	tmpl, err := template.New(name).Option("missingkey=error").Parse(tmplContent)
	if err != nil {
		return "", fmt.Errorf("failed to parse template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}

	return buf.String(), nil
}
