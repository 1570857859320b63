package template

import (
	"fmt"
	"strings"
	gotmpl "text/template"

	"github.com/google/go-containerregistry/pkg/name"
	"sigs.k8s.io/yaml"
)

// DefaultCommitTemplate is used when an automation does not configure a message template.
const DefaultCommitTemplate = `Automated image update

Automation: {{ .AutomationObject }}

Files:
{{ range .Files -}}
- {{ . }}
{{ end }}
Changes:
{{ range .Changes -}}
- {{ .File }}:{{ .Line }}: {{ .OldValue }} -> {{ .NewValue }}
{{ end }}
Images:
{{ range $policy, $ref := .Policies -}}
- {{ $ref }} ({{ $policy }})
{{ end -}}
`

// CommitChange describes one rewritten field for the commit message.
type CommitChange struct {
	File     string
	Line     int
	Policy   string
	Kind     string
	OldValue string
	NewValue string
}

// CommitMessageData is the input of a commit message template.
type CommitMessageData struct {
	// AutomationObject is the <namespace>/<name> of the automation.
	AutomationObject string
	Changes          []CommitChange
	Files            []string
	// Policies maps each applied policy to its resolved image:tag.
	Policies map[string]string
}

// CommitFuncMap holds the functions available to commit message templates in addition to sprig.
func CommitFuncMap() gotmpl.FuncMap {
	return gotmpl.FuncMap{
		// toYaml takes an interface, marshals it to yaml, and returns a string. It will
		// always return a string, even on marshal error (empty string).
		"toYaml": toYAML,
		// parseImage takes a container image string and returns a map with the keys "image", "tag", and "digest".
		"parseImage": parseImageReference,
	}
}

// RenderCommitMessage renders messageTemplate, or DefaultCommitTemplate if empty, with data.
// missingKey selects the missingkey mode for map lookups such as .Policies; empty means error.
func RenderCommitMessage(messageTemplate, missingKey string, data CommitMessageData) (string, error) {
	if strings.TrimSpace(messageTemplate) == "" {
		messageTemplate = DefaultCommitTemplate
	}

	out, err := NewTemplateExecution().
		WithFuncMap(CommitFuncMap()).
		WithMissingKeyOption(missingKey).
		Execute("commit-message", messageTemplate, data)
	if err != nil {
		return "", fmt.Errorf("failed to render commit message: %w", err)
	}

	msg := strings.TrimRight(string(out), "\n") + "\n"
	if strings.TrimSpace(msg) == "" {
		return "", fmt.Errorf("commit message template rendered an empty message")
	}
	return msg, nil
}

func toYAML(v interface{}) string {
	data, err := yaml.Marshal(v)
	if err != nil {
		// Swallow errors inside of a template.
		return ""
	}
	return strings.TrimSuffix(string(data), "\n")
}

// parseImageReference splits an image reference into repository, tag and digest.
func parseImageReference(imageRef string) map[string]interface{} {
	ref, err := name.ParseReference(imageRef)
	if err != nil {
		return nil
	}

	result := map[string]interface{}{
		"image":  ref.Context().String(),
		"tag":    "",
		"digest": "",
	}
	switch r := ref.(type) {
	case name.Tag:
		result["tag"] = r.TagStr()
	case name.Digest:
		result["digest"] = r.DigestStr()
	}
	return result
}
