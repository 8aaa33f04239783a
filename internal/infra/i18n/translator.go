package i18n

import (
	"bytes"
	"embed"
	"fmt"
	"io/fs"
	"path/filepath"
	"text/template"

	"gopkg.in/yaml.v3"
)

//go:embed locales
var LocalesFS embed.FS

// Translator holds one language's message templates.
type Translator struct {
	lang      string
	messages  map[string]string
	templates map[string]*template.Template
}

// NewTranslator loads locales/<lang>.yaml from fsys.
func NewTranslator(fsys fs.FS, langCode string) (*Translator, error) {
	filePath := filepath.Join("locales", fmt.Sprintf("%s.yaml", langCode))
	data, err := fs.ReadFile(fsys, filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read translation file %s: %w", filePath, err)
	}
	t, err := newTranslatorFromBytes(data)
	if err != nil {
		return nil, err
	}
	t.lang = langCode
	return t, nil
}

func newTranslatorFromBytes(data []byte) (*Translator, error) {
	var messages map[string]string
	if err := yaml.Unmarshal(data, &messages); err != nil {
		return nil, fmt.Errorf("failed to parse translation file: %w", err)
	}
	templates := make(map[string]*template.Template, len(messages))
	for key, text := range messages {
		tpl, err := template.New(key).Option("missingkey=zero").Parse(text)
		if err != nil {
			return nil, fmt.Errorf("template %q: %w", key, err)
		}
		templates[key] = tpl
	}
	return &Translator{messages: messages, templates: templates}, nil
}

func (t *Translator) Lang() string { return t.lang }

// T returns the raw message for key, formatted with args when given.
// Unknown keys are returned as-is.
func (t *Translator) T(key string, args ...interface{}) string {
	format, ok := t.messages[key]
	if !ok {
		return key
	}
	if len(args) > 0 {
		return fmt.Sprintf(format, args...)
	}
	return format
}

// Render executes the named template with params.
func (t *Translator) Render(key string, params map[string]string) (string, error) {
	tpl, ok := t.templates[key]
	if !ok {
		return "", fmt.Errorf("unknown template %q", key)
	}
	var buf bytes.Buffer
	if err := tpl.Execute(&buf, params); err != nil {
		return "", fmt.Errorf("render %q: %w", key, err)
	}
	return buf.String(), nil
}
