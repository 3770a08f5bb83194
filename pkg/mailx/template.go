package mailx

import (
	"bytes"
	"html/template"
	"sync"
)

// TemplateRegistry stores and renders named html/templates.
type TemplateRegistry struct {
	mu        sync.RWMutex
	templates map[string]*template.Template
}

func NewTemplateRegistry() *TemplateRegistry {
	return &TemplateRegistry{templates: make(map[string]*template.Template)}
}

// Register parses and stores a template by name.
func (r *TemplateRegistry) Register(name, tmpl string) error {
	t, err := template.New(name).Parse(tmpl)
	if err != nil {
		return mailErrors.NewWithCause(ErrTemplate, err).WithDetail("template", name)
	}

	r.mu.Lock()
	r.templates[name] = t
	r.mu.Unlock()
	return nil
}

// Render executes a named template with the given data.
func (r *TemplateRegistry) Render(name string, data any) (string, error) {
	r.mu.RLock()
	t, ok := r.templates[name]
	r.mu.RUnlock()
	if !ok {
		return "", mailErrors.NewWithMessage(ErrTemplate, "template not registered").
			WithDetail("template", name)
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", mailErrors.NewWithCause(ErrTemplate, err).WithDetail("template", name)
	}
	return buf.String(), nil
}
