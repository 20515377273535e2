// Package manifest models the subset of package.json the core cares
// about. Decoding uses encoding/json directly: the full manifest
// grammar (arbitrary fields, publishConfig, ...) is an
// external collaborator's concern; the core only needs the fields that
// drive resolution, the platform filter, and linking.
package manifest

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"
)

// PeerMeta describes one entry of peerDependenciesMeta.
type PeerMeta struct {
	Optional bool `json:"optional"`
}

// Manifest is the decoded shape of a package.json the core operates on.
type Manifest struct {
	Name                 string              `json:"name"`
	Version              string              `json:"version"`
	Dependencies         map[string]string   `json:"dependencies"`
	DevDependencies      map[string]string   `json:"devDependencies"`
	OptionalDependencies map[string]string   `json:"optionalDependencies"`
	PeerDependencies     map[string]string   `json:"peerDependencies"`
	PeerDependenciesMeta map[string]PeerMeta `json:"peerDependenciesMeta"`
	OS                   []string            `json:"os"`
	CPU                  []string            `json:"cpu"`
	Workspaces           []string            `json:"workspaces"`
	Bin                  json.RawMessage     `json:"bin"`
	Scripts              map[string]string   `json:"scripts"`
}

// Decode parses a package.json document.
func Decode(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrap(err, "decoding package.json")
	}
	return &m, nil
}

// Load reads and decodes the package.json at path.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", path)
	}
	return Decode(data)
}

// Bins returns the manifest's bin field normalized to a {name: rel-path}
// map, regardless of whether bin was a single string or an object.
func (m *Manifest) Bins() (map[string]string, error) {
	if len(m.Bin) == 0 {
		return nil, nil
	}

	var asMap map[string]string
	if err := json.Unmarshal(m.Bin, &asMap); err == nil {
		return asMap, nil
	}

	var asString string
	if err := json.Unmarshal(m.Bin, &asString); err == nil {
		if m.Name == "" || asString == "" {
			return nil, nil
		}
		return map[string]string{lastSegment(m.Name): asString}, nil
	}

	return nil, errors.Errorf("package %s: bin field is neither a string nor an object", m.Name)
}

func lastSegment(name string) string {
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] == '/' {
			return name[i+1:]
		}
	}
	return name
}
