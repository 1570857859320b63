package template_test

import (
	"testing"
	gotmpl "text/template"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openmcp-project/image-promoter/internal/template"
)

func TestTemplateExecution(t *testing.T) {
	testCases := []struct {
		desc          string
		template      string
		input         map[string]interface{}
		funcMaps      []gotmpl.FuncMap
		expected      string
		expectedError string
	}{
		{
			desc:     "simple template execution",
			template: "{{ .values.test }}",
			input: map[string]interface{}{
				"values": map[string]interface{}{
					"test": "foo",
				},
			},
			expected: "foo",
		},
		{
			desc:     "template with function call",
			template: `{{ myFunc .values.test }}`,
			input: map[string]interface{}{
				"values": map[string]interface{}{
					"test": "bar",
				},
			},
			funcMaps: []gotmpl.FuncMap{
				{
					"myFunc": func(input string) string {
						return "Hello, " + input + "!"
					},
				},
			},
			expected: "Hello, bar!",
		},
		{
			desc:     "sprig functions",
			template: `{{ .name | upper | quote }}`,
			input:    map[string]interface{}{"name": "podinfo"},
			expected: `"PODINFO"`,
		},
		{
			desc:     "parse image",
			template: `{{ $img := parseImage .ref }}{{ $img.image }} {{ $img.tag }}`,
			input:    map[string]interface{}{"ref": "ghcr.io/stefanprodan/podinfo:6.5.0"},
			funcMaps: []gotmpl.FuncMap{template.CommitFuncMap()},
			expected: "ghcr.io/stefanprodan/podinfo 6.5.0",
		},
		{
			desc:     "to yaml",
			template: `{{ toYaml .values }}`,
			input: map[string]interface{}{
				"values": map[string]interface{}{"a": 1, "b": "two"},
			},
			funcMaps: []gotmpl.FuncMap{template.CommitFuncMap()},
			expected: "a: 1\nb: two",
		},
		{
			desc:     "template with error",
			template: "{{ .missingKey }}",
			input: map[string]interface{}{
				"test": "value",
			},
			expectedError: "template: test:1:3: executing \"test\" at <.missingKey>: map has no entry for key \"missingKey\"\ntemplate source:\n1:    {{ .missingKey }}\n         ˆ≈≈≈≈≈≈≈\n\ntemplate input:\n\ttest: value\n",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			tmplExec := template.NewTemplateExecution()
			for _, fm := range tc.funcMaps {
				tmplExec.WithFuncMap(fm)
			}
			result, err := tmplExec.Execute("test", tc.template, tc.input)
			if tc.expectedError != "" {
				require.Error(t, err)
				assert.Equal(t, tc.expectedError, err.Error())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expected, string(result), "expected result does not match")
		})
	}
}

func TestMissingKeyOption(t *testing.T) {
	result, err := template.NewTemplateExecution().
		WithMissingKeyOption(template.MissingKeyZero).
		Execute("test", "[{{ .missing }}]", map[string]string{})
	require.NoError(t, err)
	assert.Equal(t, "[]", string(result))

	_, err = template.NewTemplateExecution().
		WithMissingKeyOption("").
		Execute("test", "[{{ .missing }}]", map[string]string{})
	assert.Error(t, err, "an empty option keeps missingkey=error")
}

func TestCommitFunctionsAreNotGlobal(t *testing.T) {
	_, err := template.NewTemplateExecution().Execute("test", `{{ parseImage "nginx:1.27" }}`, nil)
	assert.ErrorContains(t, err, `function "parseImage" not defined`)
}

func TestRenderCommitMessage(t *testing.T) {
	data := template.CommitMessageData{
		AutomationObject: "flux-system/apps",
		Files:            []string{"apps/deployment.yaml", "apps/kustomization.yaml"},
		Changes: []template.CommitChange{
			{File: "apps/deployment.yaml", Line: 8, Policy: "flux-system/podinfo", Kind: "full", OldValue: "registry/app:v1.0.13", NewValue: "registry/app:v1.0.14"},
			{File: "apps/kustomization.yaml", Line: 4, Policy: "flux-system/podinfo", Kind: "tag", OldValue: "v1.0.13", NewValue: "v1.0.14"},
		},
		Policies: map[string]string{"flux-system/podinfo": "registry/app:v1.0.14"},
	}

	t.Run("default template", func(t *testing.T) {
		msg, err := template.RenderCommitMessage("", "", data)
		require.NoError(t, err)
		assert.Equal(t, `Automated image update

Automation: flux-system/apps

Files:
- apps/deployment.yaml
- apps/kustomization.yaml

Changes:
- apps/deployment.yaml:8: registry/app:v1.0.13 -> registry/app:v1.0.14
- apps/kustomization.yaml:4: v1.0.13 -> v1.0.14

Images:
- registry/app:v1.0.14 (flux-system/podinfo)
`, msg)
	})

	t.Run("custom template", func(t *testing.T) {
		msg, err := template.RenderCommitMessage(`chore: promote {{ len .Changes }} fields{{ range .Changes }}
{{ .File }}:{{ .Line }} {{ .OldValue }} -> {{ .NewValue }}{{ end }}`, "", data)
		require.NoError(t, err)
		assert.Equal(t, "chore: promote 2 fields\napps/deployment.yaml:8 registry/app:v1.0.13 -> registry/app:v1.0.14\napps/kustomization.yaml:4 v1.0.13 -> v1.0.14\n", msg)
	})

	t.Run("invalid template", func(t *testing.T) {
		_, err := template.RenderCommitMessage("{{ .Unknown }}", "", data)
		assert.ErrorContains(t, err, "failed to render commit message")
	})

	t.Run("missing policy", func(t *testing.T) {
		tmpl := `promote{{ .Policies.backend }}`
		_, err := template.RenderCommitMessage(tmpl, "", data)
		assert.ErrorContains(t, err, "failed to render commit message")

		msg, err := template.RenderCommitMessage(tmpl, template.MissingKeyZero, data)
		require.NoError(t, err)
		assert.Equal(t, "promote\n", msg)
	})

	t.Run("empty result", func(t *testing.T) {
		_, err := template.RenderCommitMessage(`{{ "" }}`, "", data)
		assert.ErrorContains(t, err, "empty message")
	})
}
