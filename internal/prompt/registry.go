package prompt

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"text/template"
)

//go:embed templates
var defaultTemplates embed.FS

const fallbackLang = "en"

type key struct {
	lang string
	name string
}

// Registry holds prompt templates keyed by (language, name). Lookups fall
// back to the English template when a language-specific one is absent.
type Registry struct {
	templates map[key]*template.Template
}

// NewRegistry loads the embedded default templates.
func NewRegistry() (*Registry, error) {
	r := &Registry{templates: make(map[key]*template.Template)}

	sub, err := fs.Sub(defaultTemplates, "templates")
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded templates: %w", err)
	}

	if err := r.loadFS(sub); err != nil {
		return nil, err
	}

	return r, nil
}

// NewRegistryFromDir loads the embedded defaults then overlays templates
// from dir, so a partial prompts directory only overrides what it contains.
func NewRegistryFromDir(dir string) (*Registry, error) {
	r, err := NewRegistry()
	if err != nil {
		return nil, err
	}

	if dir == "" {
		return r, nil
	}

	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("prompts directory %s: %w", dir, err)
	}

	if err := r.loadFS(os.DirFS(dir)); err != nil {
		return nil, err
	}

	return r, nil
}

func (r *Registry) loadFS(fsys fs.FS) error {
	return fs.WalkDir(fsys, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".tmpl") {
			return nil
		}

		lang := filepath.Base(filepath.Dir(path))
		name := strings.TrimSuffix(filepath.Base(path), ".tmpl")

		raw, err := fs.ReadFile(fsys, path)
		if err != nil {
			return fmt.Errorf("failed to read template %s: %w", path, err)
		}

		tpl, err := template.New(name).Parse(string(raw))
		if err != nil {
			return fmt.Errorf("failed to parse template %s: %w", path, err)
		}

		r.templates[key{lang: lang, name: name}] = tpl
		return nil
	})
}

// Render executes the (lang, name) template with data, falling back to the
// English template when the language variant does not exist.
func (r *Registry) Render(lang, name string, data map[string]interface{}) (string, error) {
	tpl, ok := r.templates[key{lang: lang, name: name}]
	if !ok {
		tpl, ok = r.templates[key{lang: fallbackLang, name: name}]
	}
	if !ok {
		return "", fmt.Errorf("no template %q for language %q or fallback", name, lang)
	}

	var sb strings.Builder
	if err := tpl.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("failed to render template %q: %w", name, err)
	}

	return sb.String(), nil
}

// Languages reports the languages a template is available in.
func (r *Registry) Languages(name string) []string {
	var langs []string
	for k := range r.templates {
		if k.name == name {
			langs = append(langs, k.lang)
		}
	}
	return langs
}
