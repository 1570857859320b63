package template

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"sigs.k8s.io/yaml"
)

var (
	errorLineColumnRegexp = regexp.MustCompile("(?m):([0-9]+)(:([0-9]+))?:")
)

const (
	// sourceCodePrepend the number of lines before the error line that are printed.
	sourceCodePrepend = 5
	// sourceCodeAppend the number of lines after the error line that are printed.
	sourceCodeAppend = 5
	// sourceIndentation is the fixed width of the code line prefix containing the line number.
	sourceIndentation = 6
)

// TemplateError wraps a go templating error and adds the failing source lines and the input.
type TemplateError struct {
	err     error
	source  *string
	input   interface{}
	message string
}

// TemplateErrorBuilder creates a new TemplateError.
func TemplateErrorBuilder(err error) *TemplateError {
	return &TemplateError{
		err:     err,
		message: err.Error(),
	}
}

// WithSource adds the template source code to the error.
func (e *TemplateError) WithSource(source *string) *TemplateError {
	e.source = source
	return e
}

// WithInput adds the template input to the error.
func (e *TemplateError) WithInput(input interface{}) *TemplateError {
	e.input = input
	return e
}

// Build builds the error message.
func (e *TemplateError) Build() *TemplateError {
	builder := strings.Builder{}
	builder.WriteString(e.err.Error())

	if e.source != nil {
		builder.WriteString("\ntemplate source:\n")
		builder.WriteString(e.formatSource())
	}

	if e.input != nil {
		if data, err := yaml.Marshal(e.input); err == nil {
			builder.WriteString("\ntemplate input:\n")
			for _, line := range strings.Split(strings.TrimSuffix(string(data), "\n"), "\n") {
				builder.WriteString("\t" + line + "\n")
			}
		}
	}

	e.message = builder.String()
	return e
}

// Error returns the error message.
func (e *TemplateError) Error() string {
	return e.message
}

func (e *TemplateError) Unwrap() error {
	return e.err
}

// formatSource extracts the template source lines around the error position.
func (e *TemplateError) formatSource() string {
	var (
		err                    error
		errorLine, errorColumn int
	)

	m := errorLineColumnRegexp.FindStringSubmatch(e.err.Error())
	if m == nil {
		return ""
	}

	errorLine, err = strconv.Atoi(m[1])
	if err != nil {
		return ""
	}
	if m[3] != "" {
		errorColumn, err = strconv.Atoi(m[3])
		if err != nil {
			errorColumn = 0
		}
	}

	return CreateSourceSnippet(errorLine, errorColumn, strings.Split(*e.source, "\n"))
}

// CreateSourceSnippet returns up to five lines before and after the 1-based error line,
// prefixed with line numbers, and marks the error column below the error line.
func CreateSourceSnippet(errorLine, errorColumn int, source []string) string {
	formatted := strings.Builder{}

	// zero based from here on
	errorLine -= 1
	if errorLine < 0 || errorLine >= len(source) {
		return ""
	}

	start := max(errorLine-sourceCodePrepend, 0)
	end := min(errorLine+sourceCodeAppend+1, len(source))

	for i := start; i < end; i++ {
		lineNumber := i + 1
		width := int(math.Log10(float64(lineNumber)) + 1)
		prefix := fmt.Sprintf("%d:%s", lineNumber, strings.Repeat(" ", max(sourceIndentation-width-1, 0)))
		formatted.WriteString(prefix + source[i] + "\n")

		if i == errorLine {
			formatted.WriteString(strings.Repeat(" ", errorColumn+len(prefix)) + "ˆ≈≈≈≈≈≈≈\n")
		}
	}

	return formatted.String()
}
