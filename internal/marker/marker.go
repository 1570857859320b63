package marker

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"k8s.io/apimachinery/pkg/types"

	"github.com/openmcp-project/image-promoter/internal/status"
)

// MaxFileSize is the largest file scanned for markers.
const MaxFileSize = 1 << 20

// Kind selects which part of an image reference a marker governs.
type Kind string

const (
	// KindFull governs a complete reference, registry/repository:tag.
	KindFull Kind = "full"
	// KindTag governs a bare tag.
	KindTag Kind = "tag"
	// KindName governs a bare repository name without tag.
	KindName Kind = "name"
)

var markerPattern = regexp.MustCompile(`\{\s*"\$imagepolicy"\s*:\s*"([^"]*)"\s*\}`)

// Marker is one annotated field occurrence.
type Marker struct {
	File string
	// Line is 1-based.
	Line   int
	Kind   Kind
	Policy types.NamespacedName
	// Value is the current field value without quotes.
	Value string
	// start and end are the byte offsets of Value within the line.
	start, end int
}

func (m Marker) String() string {
	return fmt.Sprintf("%s:%d", m.File, m.Line)
}

// ParseLine finds a marker in a single line. It returns nil without error if the line has no marker.
func ParseLine(line string) (*Marker, error) {
	loc := markerPattern.FindStringSubmatchIndex(line)
	if loc == nil {
		return nil, nil
	}

	prefix := strings.TrimRight(line[:loc[0]], " \t")
	if !strings.HasSuffix(prefix, "#") {
		return nil, status.Errorf(status.ReasonMalformedMarker, "marker is not inside a # comment")
	}

	id := line[loc[2]:loc[3]]
	policy, kind, err := parseIdentity(id)
	if err != nil {
		return nil, err
	}

	field := strings.TrimRight(prefix[:len(prefix)-1], " \t")
	tokenStart := strings.LastIndexAny(field, " \t") + 1
	token := field[tokenStart:]
	if token == "" || strings.HasSuffix(token, ":") || token == "-" {
		return nil, status.Errorf(status.ReasonMalformedMarker, "marker %q does not follow a field value", id)
	}

	start, end := tokenStart, len(field)
	if len(token) >= 2 && (token[0] == '"' || token[0] == '\'') && token[len(token)-1] == token[0] {
		start++
		end--
	}

	return &Marker{
		Kind:   kind,
		Policy: policy,
		Value:  line[start:end],
		start:  start,
		end:    end,
	}, nil
}

func parseIdentity(id string) (types.NamespacedName, Kind, error) {
	parts := strings.Split(id, ":")
	kind := KindFull
	switch len(parts) {
	case 2:
	case 3:
		switch Kind(parts[2]) {
		case KindTag, KindName:
			kind = Kind(parts[2])
		default:
			return types.NamespacedName{}, "", status.Errorf(status.ReasonMalformedMarker, "unknown marker suffix %q in %q", parts[2], id)
		}
	default:
		return types.NamespacedName{}, "", status.Errorf(status.ReasonMalformedMarker, "marker %q must have the form <namespace>:<policy>[:tag|:name]", id)
	}
	if parts[0] == "" || parts[1] == "" {
		return types.NamespacedName{}, "", status.Errorf(status.ReasonMalformedMarker, "marker %q has an empty namespace or policy name", id)
	}
	return types.NamespacedName{Namespace: parts[0], Name: parts[1]}, kind, nil
}

// Scan walks root on fs and returns every well-formed marker. Malformed markers are returned
// separately and do not stop the scan. The .git directory, binary files and files above
// MaxFileSize are skipped.
func Scan(fs billy.Filesystem, root string) (markers []Marker, malformed []error, err error) {
	err = util.Walk(fs, root, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if info.IsDir() {
			if info.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if !info.Mode().IsRegular() || info.Size() > MaxFileSize {
			return nil
		}

		data, err := util.ReadFile(fs, path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		if bytes.IndexByte(data, 0) >= 0 {
			return nil
		}

		file := filepath.ToSlash(filepath.Clean(path))
		for i, line := range strings.Split(string(data), "\n") {
			m, err := ParseLine(line)
			if err != nil {
				malformed = append(malformed, fmt.Errorf("%s:%d: %w", file, i+1, err))
				continue
			}
			if m == nil {
				continue
			}
			m.File = file
			m.Line = i + 1
			markers = append(markers, *m)
		}
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to scan %s for markers: %w", root, err)
	}
	return markers, malformed, nil
}
