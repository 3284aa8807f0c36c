package provision

import (
	"bytes"
	"embed"
	"encoding/xml"
	"fmt"
	"io/fs"
	"strings"
	"text/template"
)

//go:embed templates
var builtinTemplates embed.FS

// templateSuffix is stripped from file names to form template names:
// templates/base/domain.xml.tmpl is rendered as "base/domain.xml".
const templateSuffix = ".tmpl"

// Renderer produces descriptor text from named templates.
type Renderer interface {
	Render(name string, params map[string]any) (string, error)
}

// TextRenderer renders text/template files.
type TextRenderer struct {
	root *template.Template
}

// NewTextRenderer creates a TextRenderer over the built-in templates.
func NewTextRenderer() (*TextRenderer, error) {
	sub, err := fs.Sub(builtinTemplates, "templates")
	if err != nil {
		return nil, fmt.Errorf("failed to open built-in templates: %w", err)
	}
	return NewTextRendererFS(sub)
}

// NewTextRendererFS creates a TextRenderer over every *.tmpl file in fsys.
// Templates are named by their slash-separated path without the suffix.
func NewTextRendererFS(fsys fs.FS) (*TextRenderer, error) {
	root := template.New("").Funcs(template.FuncMap{"xml": escapeXML}).Option("missingkey=error")

	err := fs.WalkDir(fsys, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, templateSuffix) {
			return nil
		}

		content, err := fs.ReadFile(fsys, path)
		if err != nil {
			return fmt.Errorf("failed to read template %s: %w", path, err)
		}
		name := strings.TrimSuffix(path, templateSuffix)
		if _, err := root.New(name).Parse(string(content)); err != nil {
			return fmt.Errorf("failed to parse template %s: %w", path, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &TextRenderer{root: root}, nil
}

// Render executes the named template with params.
func (r *TextRenderer) Render(name string, params map[string]any) (string, error) {
	tmpl := r.root.Lookup(name)
	if tmpl == nil {
		return "", fmt.Errorf("%w: no descriptor template %q", ErrUnknownTemplate, name)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, params); err != nil {
		return "", fmt.Errorf("failed to execute template %s: %w", name, err)
	}
	return buf.String(), nil
}

func escapeXML(s string) (string, error) {
	var buf bytes.Buffer
	if err := xml.EscapeText(&buf, []byte(s)); err != nil {
		return "", err
	}
	return buf.String(), nil
}
