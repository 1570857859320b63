package marker_test

import (
	"errors"
	"os"
	"testing"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/types"

	"github.com/openmcp-project/image-promoter/internal/marker"
	"github.com/openmcp-project/image-promoter/internal/status"
)

type staticResolver map[types.NamespacedName][2]string

func (r staticResolver) Resolved(policy types.NamespacedName) (string, string, bool) {
	v, ok := r[policy]
	return v[0], v[1], ok
}

var pol = types.NamespacedName{Namespace: "ns", Name: "pol"}

func writeFile(t *testing.T, fs billy.Filesystem, name, content string) {
	require.NoError(t, util.WriteFile(fs, name, []byte(content), 0o644))
}

func readFile(t *testing.T, fs billy.Filesystem, name string) string {
	data, err := util.ReadFile(fs, name)
	require.NoError(t, err)
	return string(data)
}

func TestParseLine(t *testing.T) {
	tests := []struct {
		name      string
		line      string
		kind      marker.Kind
		value     string
		policy    types.NamespacedName
		noMarker  bool
		malformed bool
	}{
		{
			name:   "full reference",
			line:   `    image: registry/app:v1.0.13 # {"$imagepolicy": "ns:pol"}`,
			kind:   marker.KindFull,
			value:  "registry/app:v1.0.13",
			policy: pol,
		},
		{
			name:   "tag only, quoted",
			line:   `  newTag: "v1.0.13" # {"$imagepolicy": "ns:pol:tag"}`,
			kind:   marker.KindTag,
			value:  "v1.0.13",
			policy: pol,
		},
		{
			name:   "name only",
			line:   `  newName: registry/app # {"$imagepolicy": "ns:pol:name"}`,
			kind:   marker.KindName,
			value:  "registry/app",
			policy: pol,
		},
		{
			name:   "list item without spaces in marker",
			line:   `- registry/app:v1 #{"$imagepolicy":"flux-system:app"}`,
			kind:   marker.KindFull,
			value:  "registry/app:v1",
			policy: types.NamespacedName{Namespace: "flux-system", Name: "app"},
		},
		{
			name:     "no marker",
			line:     `image: registry/app:v1 # pinned`,
			noMarker: true,
		},
		{
			name:      "unknown suffix",
			line:      `image: registry/app:v1 # {"$imagepolicy": "ns:pol:digest"}`,
			malformed: true,
		},
		{
			name:      "missing namespace",
			line:      `image: registry/app:v1 # {"$imagepolicy": "pol"}`,
			malformed: true,
		},
		{
			name:      "empty policy name",
			line:      `image: registry/app:v1 # {"$imagepolicy": "ns:"}`,
			malformed: true,
		},
		{
			name:      "not in a comment",
			line:      `image: '{"$imagepolicy": "ns:pol"}'`,
			malformed: true,
		},
		{
			name:      "no field value",
			line:      `# {"$imagepolicy": "ns:pol"}`,
			malformed: true,
		},
		{
			name:      "key without value",
			line:      `image: # {"$imagepolicy": "ns:pol"}`,
			malformed: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := marker.ParseLine(tt.line)
			switch {
			case tt.malformed:
				assert.True(t, errors.Is(err, status.ErrMalformedMarker), "got %v", err)
			case tt.noMarker:
				assert.NoError(t, err)
				assert.Nil(t, m)
			default:
				require.NoError(t, err)
				require.NotNil(t, m)
				assert.Equal(t, tt.kind, m.Kind)
				assert.Equal(t, tt.value, m.Value)
				assert.Equal(t, tt.policy, m.Policy)
			}
		})
	}
}

func TestScanAndApply(t *testing.T) {
	fs := memfs.New()
	writeFile(t, fs, "apps/deployment.yaml", `apiVersion: apps/v1
kind: Deployment
spec:
  template:
    spec:
      containers:
        - name: app
          image: registry/app:v1.0.13 # {"$imagepolicy": "ns:pol"}
        - name: sidecar
          image: registry/sidecar:1.0 # {"$imagepolicy": "ns:unresolved"}
`)
	writeFile(t, fs, "apps/kustomization.yaml", "images:\r\n  - name: app\r\n    newName: registry/app # {\"$imagepolicy\": \"ns:pol:name\"}\r\n    newTag: \"v1.0.13\" # {\"$imagepolicy\": \"ns:pol:tag\"}\r\n")
	writeFile(t, fs, "apps/broken.yaml", `image: registry/app:v1 # {"$imagepolicy": "ns:pol:sha"}
`)
	writeFile(t, fs, "apps/binary.bin", "image: registry/app:v1 # {\"$imagepolicy\": \"ns:pol\"}\x00\x01")
	writeFile(t, fs, ".git/config", `image: registry/app:v1 # {"$imagepolicy": "ns:pol"}`)

	markers, malformed, err := marker.Scan(fs, ".")
	require.NoError(t, err)
	assert.Len(t, markers, 4)
	require.Len(t, malformed, 1)
	assert.Contains(t, malformed[0].Error(), "apps/broken.yaml:1")
	assert.True(t, errors.Is(malformed[0], status.ErrMalformedMarker))

	resolver := staticResolver{pol: {"registry/app", "v1.0.14"}}
	changes, unresolved := marker.Plan(markers, resolver)
	assert.Len(t, changes, 2)
	require.Len(t, unresolved, 1)
	assert.Equal(t, "ns/unresolved", unresolved[0].Policy.String())
	assert.Equal(t, []string{"apps/deployment.yaml", "apps/kustomization.yaml"}, marker.Files(changes))

	require.NoError(t, marker.Apply(fs, changes))

	assert.Equal(t, `apiVersion: apps/v1
kind: Deployment
spec:
  template:
    spec:
      containers:
        - name: app
          image: registry/app:v1.0.14 # {"$imagepolicy": "ns:pol"}
        - name: sidecar
          image: registry/sidecar:1.0 # {"$imagepolicy": "ns:unresolved"}
`, readFile(t, fs, "apps/deployment.yaml"))
	assert.Equal(t, "images:\r\n  - name: app\r\n    newName: registry/app # {\"$imagepolicy\": \"ns:pol:name\"}\r\n    newTag: \"v1.0.14\" # {\"$imagepolicy\": \"ns:pol:tag\"}\r\n",
		readFile(t, fs, "apps/kustomization.yaml"))

	// a second pass finds nothing left to change
	markers, _, err = marker.Scan(fs, ".")
	require.NoError(t, err)
	changes, _ = marker.Plan(markers, resolver)
	assert.Empty(t, changes)
}

func TestScanSubdirectory(t *testing.T) {
	fs := memfs.New()
	writeFile(t, fs, "clusters/prod/app.yaml", `image: registry/app:v1 # {"$imagepolicy": "ns:pol"}`)
	writeFile(t, fs, "clusters/dev/app.yaml", `image: registry/app:v1 # {"$imagepolicy": "ns:pol"}`)

	markers, _, err := marker.Scan(fs, "clusters/prod")
	require.NoError(t, err)
	require.Len(t, markers, 1)
	assert.Equal(t, "clusters/prod/app.yaml", markers[0].File)
	assert.Equal(t, 1, markers[0].Line)
}

// failingFS fails to open one file for writing.
type failingFS struct {
	billy.Filesystem
	failOn string
}

func (f *failingFS) OpenFile(filename string, flag int, perm os.FileMode) (billy.File, error) {
	if filename == f.failOn && flag&os.O_WRONLY != 0 {
		return nil, errors.New("disk full")
	}
	return f.Filesystem.OpenFile(filename, flag, perm)
}

func TestApplyRollsBack(t *testing.T) {
	fs := memfs.New()
	first := "image: registry/app:v1.0.13 # {\"$imagepolicy\": \"ns:pol\"}\n"
	second := "newTag: v1.0.13 # {\"$imagepolicy\": \"ns:pol:tag\"}\n"
	writeFile(t, fs, "a.yaml", first)
	writeFile(t, fs, "b.yaml", second)

	markers, _, err := marker.Scan(fs, ".")
	require.NoError(t, err)
	changes, _ := marker.Plan(markers, staticResolver{pol: {"registry/app", "v1.0.14"}})
	require.Len(t, changes, 2)

	err = marker.Apply(&failingFS{Filesystem: fs, failOn: "b.yaml"}, changes)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")

	assert.Equal(t, first, readFile(t, fs, "a.yaml"))
	assert.Equal(t, second, readFile(t, fs, "b.yaml"))
}

func TestApplyRejectsBrokenYAML(t *testing.T) {
	fs := memfs.New()
	content := "image: registry/app:v1 # {\"$imagepolicy\": \"ns:pol\"}\n"
	writeFile(t, fs, "app.yaml", content)

	markers, _, err := marker.Scan(fs, ".")
	require.NoError(t, err)
	changes, _ := marker.Plan(markers, staticResolver{pol: {"registry/app", "v2: {"}})
	require.Len(t, changes, 1)

	err = marker.Apply(fs, changes)
	assert.ErrorContains(t, err, "invalid YAML")
	assert.Equal(t, content, readFile(t, fs, "app.yaml"))
}
