package main

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"
)

// rawManifest is the CLI-side editable view of package.json:
// internal/manifest only ever decodes, so writing the dependency maps
// back for "add"/"remove" is handled here instead, kept to a generic
// map so fields the core doesn't model (publishConfig, arbitrary
// metadata, ...) round-trip untouched.
type rawManifest map[string]interface{}

func loadRawManifest(path string) (rawManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", path)
	}
	var m rawManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrapf(err, "parsing %s", path)
	}
	return m, nil
}

func saveRawManifest(path string, m rawManifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encoding package.json")
	}
	data = append(data, '\n')
	return errors.Wrapf(os.WriteFile(path, data, 0644), "writing %s", path)
}

// depField returns the name of the package.json field that a given
// save target (dependencies/devDependencies/optionalDependencies)
// writes to.
func depField(dev, optional bool) string {
	switch {
	case dev:
		return "devDependencies"
	case optional:
		return "optionalDependencies"
	default:
		return "dependencies"
	}
}

// setDependency writes name -> rangeStr into the given top-level
// dependency map field, creating it if absent.
func (m rawManifest) setDependency(field, name, rangeStr string) {
	raw, ok := m[field].(map[string]interface{})
	if !ok {
		raw = map[string]interface{}{}
	}
	raw[name] = rangeStr
	m[field] = raw
}

// removeDependency deletes name from every dependency map it appears
// in, reporting whether it was found anywhere.
func (m rawManifest) removeDependency(name string) (found bool) {
	for _, field := range []string{"dependencies", "devDependencies", "optionalDependencies", "peerDependencies"} {
		raw, ok := m[field].(map[string]interface{})
		if !ok {
			continue
		}
		if _, ok := raw[name]; ok {
			delete(raw, name)
			found = true
			m[field] = raw
		}
	}
	return found
}
