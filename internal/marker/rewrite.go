package marker

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"gopkg.in/yaml.v3"
	"k8s.io/apimachinery/pkg/types"
)

// Resolver returns the resolved image and tag of a policy.
type Resolver interface {
	Resolved(policy types.NamespacedName) (image, tag string, ok bool)
}

// Change is a pending rewrite of one marked field.
type Change struct {
	Marker   Marker
	OldValue string
	NewValue string
	// Image and Tag are the resolution the change is derived from.
	Image string
	Tag   string
}

// Plan computes the changes needed to bring every marker in line with its policy.
// Markers of unresolved policies are returned as unresolved and left untouched.
func Plan(markers []Marker, resolver Resolver) (changes []Change, unresolved []Marker) {
	for _, m := range markers {
		image, tag, ok := resolver.Resolved(m.Policy)
		if !ok {
			unresolved = append(unresolved, m)
			continue
		}

		var value string
		switch m.Kind {
		case KindTag:
			value = tag
		case KindName:
			value = image
		default:
			value = image + ":" + tag
		}

		if value == m.Value {
			continue
		}
		changes = append(changes, Change{
			Marker:   m,
			OldValue: m.Value,
			NewValue: value,
			Image:    image,
			Tag:      tag,
		})
	}
	return changes, unresolved
}

// Files returns the sorted, distinct files touched by changes.
func Files(changes []Change) []string {
	seen := map[string]bool{}
	var files []string
	for _, c := range changes {
		if !seen[c.Marker.File] {
			seen[c.Marker.File] = true
			files = append(files, c.Marker.File)
		}
	}
	sort.Strings(files)
	return files
}

// Apply writes all changes to fs. Only the bytes of each governed value are replaced; the rest
// of the line, including the marker comment, is kept byte for byte. If any file cannot be
// rewritten, every file already written is restored and an error is returned.
func Apply(fs billy.Filesystem, changes []Change) (err error) {
	byFile := map[string][]Change{}
	for _, c := range changes {
		byFile[c.Marker.File] = append(byFile[c.Marker.File], c)
	}

	originals := map[string][]byte{}
	defer func() {
		if err == nil {
			return
		}
		for file, data := range originals {
			if restoreErr := util.WriteFile(fs, file, data, 0o644); restoreErr != nil {
				err = errors.Join(err, fmt.Errorf("failed to restore %s: %w", file, restoreErr))
			}
		}
	}()

	for _, file := range Files(changes) {
		original, err := util.ReadFile(fs, file)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", file, err)
		}

		updated, err := rewrite(original, byFile[file])
		if err != nil {
			return fmt.Errorf("failed to rewrite %s: %w", file, err)
		}

		if isYAML(file) && parsesAsYAML(original) && !parsesAsYAML(updated) {
			return fmt.Errorf("rewriting %s would produce invalid YAML", file)
		}

		originals[file] = original
		if err := writeFile(fs, file, updated); err != nil {
			return fmt.Errorf("failed to write %s: %w", file, err)
		}
	}
	return nil
}

func rewrite(content []byte, changes []Change) ([]byte, error) {
	lines := strings.Split(string(content), "\n")
	for _, c := range changes {
		i := c.Marker.Line - 1
		if i < 0 || i >= len(lines) {
			return nil, fmt.Errorf("line %d out of range", c.Marker.Line)
		}
		line := lines[i]
		start, end := c.Marker.start, c.Marker.end
		if end > len(line) || line[start:end] != c.OldValue {
			return nil, fmt.Errorf("line %d changed since it was scanned", c.Marker.Line)
		}
		lines[i] = line[:start] + c.NewValue + line[end:]
	}
	return []byte(strings.Join(lines, "\n")), nil
}

// writeFile truncates and writes the file in place, keeping its mode.
func writeFile(fs billy.Filesystem, file string, data []byte) error {
	mode := os.FileMode(0o644)
	if info, err := fs.Stat(file); err == nil {
		mode = info.Mode().Perm()
	}
	return util.WriteFile(fs, file, data, mode)
}

func isYAML(file string) bool {
	ext := strings.ToLower(path.Ext(file))
	return ext == ".yaml" || ext == ".yml"
}

func parsesAsYAML(data []byte) bool {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	for {
		var node yaml.Node
		if err := dec.Decode(&node); err != nil {
			return errors.Is(err, io.EOF)
		}
	}
}
