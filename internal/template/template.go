package template

import (
	"bytes"
	gotmpl "text/template"

	"github.com/Masterminds/sprig/v3"
)

// TemplateExecution is a struct that provides methods to execute templates with input data.
type TemplateExecution struct {
	funcMaps         []gotmpl.FuncMap
	missingKeyOption string
}

// Modes of the text/template missingkey option.
const (
	MissingKeyDefault = "default"
	MissingKeyInvalid = "invalid"
	MissingKeyZero    = "zero"
	MissingKeyError   = "error"
)

// MissingKeyOptions lists the accepted missing key modes.
var MissingKeyOptions = []string{MissingKeyDefault, MissingKeyInvalid, MissingKeyZero, MissingKeyError}

// NewTemplateExecution creates a new TemplateExecution instance with sprig functions and
// missingkey=error.
func NewTemplateExecution() *TemplateExecution {
	return &TemplateExecution{
		funcMaps:         []gotmpl.FuncMap{sprig.TxtFuncMap()},
		missingKeyOption: MissingKeyError,
	}
}

// WithFuncMap adds a function map to the template execution.
func (t *TemplateExecution) WithFuncMap(funcMap gotmpl.FuncMap) *TemplateExecution {
	t.funcMaps = append(t.funcMaps, funcMap)
	return t
}

// WithMissingKeyOption sets the option for handling missing map keys in the template.
// An empty option keeps the current one.
func (t *TemplateExecution) WithMissingKeyOption(option string) *TemplateExecution {
	if option != "" {
		t.missingKeyOption = option
	}
	return t
}

// Execute executes the given template with the provided input data.
// The template name is used for error reporting.
func (t *TemplateExecution) Execute(name, template string, input interface{}) ([]byte, error) {
	tmpl := gotmpl.New(name)

	for _, fm := range t.funcMaps {
		tmpl.Funcs(fm)
	}

	tmpl.Option("missingkey=" + t.missingKeyOption)
	_, err := tmpl.Parse(template)
	if err != nil {
		return nil, TemplateErrorBuilder(err).WithSource(&template).WithInput(input).Build()
	}

	data := bytes.NewBuffer([]byte{})
	if err = tmpl.Execute(data, input); err != nil {
		return nil, TemplateErrorBuilder(err).WithSource(&template).WithInput(input).Build()
	}

	return data.Bytes(), nil
}
