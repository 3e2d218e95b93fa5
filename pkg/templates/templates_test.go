package templates

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"testing/fstest"
)

func testDefaults() fstest.MapFS {
	return fstest.MapFS{
		"greeting.template": {Data: []byte(`hello {{.Name}}`)},
		"list.template":     {Data: []byte(`{{range .Items}}- "{{.}}"` + "\n" + `{{end}}`)},
		"README.md":         {Data: []byte("not a template")},
	}
}

func TestRegistry_Get(t *testing.T) {
	reg := New(testDefaults(), t.TempDir())

	tests := []struct {
		name     string
		template string
		wantErr  bool
		contains string
	}{
		{"embedded template", "greeting", false, "hello"},
		{"unknown template", "missing", true, ""},
		{"non-template file", "README.md", true, ""},
		{"path traversal", "../greeting", true, ""},
		{"empty name", "", true, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := reg.Get(tt.template)
			if (err != nil) != tt.wantErr {
				t.Errorf("Get() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && !strings.Contains(got, tt.contains) {
				t.Errorf("Get() = %q, should contain %q", got, tt.contains)
			}
		})
	}
}

func TestRegistry_Override(t *testing.T) {
	first := t.TempDir()
	second := t.TempDir()
	reg := New(testDefaults(), first, second)

	if err := os.WriteFile(filepath.Join(second, "greeting.template"), []byte("second {{.Name}}"), 0644); err != nil {
		t.Fatalf("Failed to write override: %v", err)
	}
	got, err := reg.Get("greeting")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != "second {{.Name}}" {
		t.Errorf("Get() = %q, want override from second dir", got)
	}

	if err := os.WriteFile(filepath.Join(first, "greeting.template"), []byte("first {{.Name}}"), 0644); err != nil {
		t.Fatalf("Failed to write override: %v", err)
	}
	got, _ = reg.Get("greeting")
	if got != "first {{.Name}}" {
		t.Errorf("Get() = %q, earlier search dir should win", got)
	}

	// An override alone does not make a template known.
	if err := os.WriteFile(filepath.Join(first, "extra.template"), []byte("x"), 0644); err != nil {
		t.Fatalf("Failed to write override: %v", err)
	}
	if _, err := reg.Get("extra"); err == nil {
		t.Error("Get() should reject templates without an embedded default")
	}
}

func TestRegistry_RenderWithGoTemplate(t *testing.T) {
	reg := New(testDefaults(), t.TempDir())

	got, err := reg.RenderWithGoTemplate("greeting", map[string]string{"Name": `a "quoted" <name>`})
	if err != nil {
		t.Fatalf("RenderWithGoTemplate() error = %v", err)
	}
	if got != `hello a "quoted" <name>` {
		t.Errorf("RenderWithGoTemplate() = %q, values must not be escaped", got)
	}

	got, err = reg.RenderWithGoTemplate("list", struct{ Items []string }{[]string{"a", "b"}})
	if err != nil {
		t.Fatalf("RenderWithGoTemplate() error = %v", err)
	}
	if got != "- \"a\"\n- \"b\"\n" {
		t.Errorf("RenderWithGoTemplate() = %q", got)
	}

	if _, err := reg.RenderWithGoTemplate("greeting", map[string]string{}); err == nil {
		t.Error("RenderWithGoTemplate() should fail on a missing key")
	}
}

func TestRegistry_List(t *testing.T) {
	reg := New(testDefaults())
	want := []string{"greeting", "list"}
	if got := reg.List(); !reflect.DeepEqual(got, want) {
		t.Errorf("List() = %v, want %v", got, want)
	}
}

func TestDefaultSearchDirs(t *testing.T) {
	dirs := DefaultSearchDirs()
	if len(dirs) != 3 {
		t.Fatalf("DefaultSearchDirs() returned %d dirs, want 3", len(dirs))
	}
	if dirs[2] != "/etc/hzinstall/templates" {
		t.Errorf("system-wide dir = %q", dirs[2])
	}

	reg := New(testDefaults())
	paths := reg.Paths("greeting")
	if filepath.Base(paths[0]) != "greeting.template" {
		t.Errorf("Paths()[0] = %q", paths[0])
	}
}

func BenchmarkRenderWithGoTemplate(b *testing.B) {
	reg := New(testDefaults(), b.TempDir())
	data := map[string]string{"Name": "bench"}
	for i := 0; i < b.N; i++ {
		_, _ = reg.RenderWithGoTemplate("greeting", data)
	}
}
