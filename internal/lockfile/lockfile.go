// Package lockfile implements the binary framed lockfile codec: the
// current wire format, a handful of legacy decode paths for files
// written by older versions, and a JSON/YAML export projection.
package lockfile

import (
	"bytes"
	"encoding/binary"
	"encoding/json"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/pacmpkg/pacm/internal/pkgerr"
)

const (
	magic          = "PACMLOCK"
	currentWire    = uint16(3)
	minReadableWire = uint16(1)
	sizeCap        = 16 * 1024 * 1024
)

// PeerMeta captures one peerDependenciesMeta entry.
type PeerMeta struct {
	Optional bool
}

// Entry is one lockfile record, keyed by "" (project root) or
// "node_modules/<name>".
type Entry struct {
	Version              string
	Integrity            string
	Resolved             string
	Dependencies         map[string]string
	DevDependencies      map[string]string
	OptionalDependencies map[string]string
	PeerDependencies     map[string]string
	PeerDependenciesMeta map[string]PeerMeta
	OS                   []string
	CPU                  []string
	StoreKey             string
	ContentHash          string
	LinkMode             string
	StorePath            string
}

// Lockfile is the decoded document.
type Lockfile struct {
	Format  uint32
	Entries map[string]*Entry
}

// New returns an empty lockfile with the given project-visible format
// number.
func New(format uint32) *Lockfile {
	return &Lockfile{Format: format, Entries: map[string]*Entry{}}
}

// SyncFromManifest ensures a root entry exists, writes version and the
// four dependency maps onto it, and ensures an empty child entry for
// every declared name in deps ∪ dev ∪ optional (peers are not
// installable on their own).
func (l *Lockfile) SyncFromManifest(version string, deps, dev, optional, peer map[string]string) {
	root, ok := l.Entries[""]
	if !ok {
		root = &Entry{}
		l.Entries[""] = root
	}
	root.Version = version
	root.Dependencies = deps
	root.DevDependencies = dev
	root.OptionalDependencies = optional
	root.PeerDependencies = peer

	for _, names := range []map[string]string{deps, dev, optional} {
		for name := range names {
			key := "node_modules/" + name
			if _, ok := l.Entries[key]; !ok {
				l.Entries[key] = &Entry{}
			}
		}
	}
}

// Encode serializes the lockfile using the current wire framing.
func Encode(l *Lockfile) ([]byte, error) {
	var packages bytes.Buffer

	keys := make([]string, 0, len(l.Entries))
	for k := range l.Entries {
		keys = append(keys, k)
	}
	sortStrings(keys)

	writeUint32(&packages, uint32(len(keys)))
	for _, key := range keys {
		e := l.Entries[key]
		writeString(&packages, key)
		writeOptionString(&packages, e.Version)
		writeOptionString(&packages, e.Integrity)
		writeOptionString(&packages, e.Resolved)
		writeStringMap(&packages, e.Dependencies)
		writeStringMap(&packages, e.DevDependencies)
		writeStringMap(&packages, e.OptionalDependencies)
		writeStringMap(&packages, e.PeerDependencies)
		writePeerMetaMap(&packages, e.PeerDependenciesMeta)
		writeStringList(&packages, e.OS)
		writeStringList(&packages, e.CPU)
		writeOptionString(&packages, e.StoreKey)
		writeOptionString(&packages, e.ContentHash)
		writeOptionString(&packages, e.LinkMode)
		writeOptionString(&packages, e.StorePath)
	}

	var out bytes.Buffer
	out.WriteString(magic)
	writeUint16(&out, currentWire)
	writeUint16(&out, 0) // reserved
	writeUint32(&out, l.Format)
	writeUint32(&out, uint32(packages.Len()))
	out.Write(packages.Bytes())
	writeUint32(&out, 0) // extras section length

	return out.Bytes(), nil
}

// Decode parses a lockfile, trying the current binary framing first,
// then a small set of legacy binary shapes, then JSON.
func Decode(data []byte) (*Lockfile, error) {
	if len(data) > sizeCap {
		return nil, pkgerr.New(pkgerr.LockfileFormatInvalid, "lockfile exceeds %d byte cap", sizeCap)
	}

	if len(data) >= len(magic) && string(data[:len(magic)]) == magic {
		return decodeFramed(data)
	}
	if lf, err := decodeVarintLegacy(data); err == nil {
		return lf, nil
	}
	if looksLikeJSON(data) {
		return decodeJSON(data)
	}
	return nil, pkgerr.New(pkgerr.LockfileFormatInvalid, "unrecognized lockfile encoding")
}

func decodeFramed(data []byte) (*Lockfile, error) {
	r := &reader{buf: data, pos: 0, cap: sizeCap}
	if err := r.skip(len(magic)); err != nil {
		return nil, pkgerr.Wrap(pkgerr.LockfileFormatInvalid, "magic", err)
	}

	wireVersion, err := r.readUint16()
	if err != nil {
		return nil, pkgerr.Wrap(pkgerr.LockfileFormatInvalid, "wire version", err)
	}
	if wireVersion < minReadableWire || wireVersion > currentWire {
		return nil, pkgerr.New(pkgerr.LockfileFormatInvalid, "unsupported wire version %d", wireVersion)
	}
	if _, err := r.readUint16(); err != nil { // reserved
		return nil, pkgerr.Wrap(pkgerr.LockfileFormatInvalid, "reserved", err)
	}

	format, err := r.readUint32()
	if err != nil {
		return nil, pkgerr.Wrap(pkgerr.LockfileFormatInvalid, "format", err)
	}
	if format == 0 {
		return nil, pkgerr.New(pkgerr.LockfileFormatInvalid, "format 0 is not a valid lockfile")
	}

	length, err := r.readUint32()
	if err != nil {
		return nil, pkgerr.Wrap(pkgerr.LockfileFormatInvalid, "packages length", err)
	}

	count, err := r.readUint32()
	if err != nil {
		return nil, pkgerr.Wrap(pkgerr.LockfileFormatInvalid, "packages count", err)
	}

	lf := &Lockfile{Format: format, Entries: map[string]*Entry{}}

	for i := uint32(0); i < count; i++ {
		key, err := r.readString()
		if err != nil {
			return nil, pkgerr.Wrap(pkgerr.LockfileFormatInvalid, "key", err)
		}
		e := &Entry{}
		if e.Version, err = r.readOptionString(); err != nil {
			return nil, pkgerr.Wrap(pkgerr.LockfileFormatInvalid, key, err)
		}
		if e.Integrity, err = r.readOptionString(); err != nil {
			return nil, pkgerr.Wrap(pkgerr.LockfileFormatInvalid, key, err)
		}
		if e.Resolved, err = r.readOptionString(); err != nil {
			return nil, pkgerr.Wrap(pkgerr.LockfileFormatInvalid, key, err)
		}
		if e.Dependencies, err = r.readStringMap(); err != nil {
			return nil, pkgerr.Wrap(pkgerr.LockfileFormatInvalid, key, err)
		}
		if e.DevDependencies, err = r.readStringMap(); err != nil {
			return nil, pkgerr.Wrap(pkgerr.LockfileFormatInvalid, key, err)
		}
		if e.OptionalDependencies, err = r.readStringMap(); err != nil {
			return nil, pkgerr.Wrap(pkgerr.LockfileFormatInvalid, key, err)
		}
		if e.PeerDependencies, err = r.readStringMap(); err != nil {
			return nil, pkgerr.Wrap(pkgerr.LockfileFormatInvalid, key, err)
		}
		if e.PeerDependenciesMeta, err = r.readPeerMetaMap(); err != nil {
			return nil, pkgerr.Wrap(pkgerr.LockfileFormatInvalid, key, err)
		}

		if wireVersion >= 2 {
			if e.OS, err = r.readStringList(); err != nil {
				return nil, pkgerr.Wrap(pkgerr.LockfileFormatInvalid, key, err)
			}
			if e.CPU, err = r.readStringList(); err != nil {
				return nil, pkgerr.Wrap(pkgerr.LockfileFormatInvalid, key, err)
			}
		}
		if wireVersion >= 3 {
			if e.StoreKey, err = r.readOptionString(); err != nil {
				return nil, pkgerr.Wrap(pkgerr.LockfileFormatInvalid, key, err)
			}
			if e.ContentHash, err = r.readOptionString(); err != nil {
				return nil, pkgerr.Wrap(pkgerr.LockfileFormatInvalid, key, err)
			}
			if e.LinkMode, err = r.readOptionString(); err != nil {
				return nil, pkgerr.Wrap(pkgerr.LockfileFormatInvalid, key, err)
			}
			if e.StorePath, err = r.readOptionString(); err != nil {
				return nil, pkgerr.Wrap(pkgerr.LockfileFormatInvalid, key, err)
			}
		}

		lf.Entries[key] = e
	}

	_ = length
	return lf, nil
}

// decodeVarintLegacy reads the hand-rolled varint-framed shape used by
// an earlier, pre-binary-framing revision: magic "PLKV", a varint
// entry count, then for each entry a varint-prefixed key, version,
// integrity, and resolved string (no dependency maps, no platform
// fields — it predates both).
func decodeVarintLegacy(data []byte) (*Lockfile, error) {
	const legacyMagic = "PLKV"
	if len(data) < len(legacyMagic) || string(data[:len(legacyMagic)]) != legacyMagic {
		return nil, errors.New("not varint-legacy framed")
	}
	buf := data[len(legacyMagic):]

	readVarintString := func() (string, error) {
		n, read := binary.Uvarint(buf)
		if read <= 0 {
			return "", errors.New("malformed varint length")
		}
		buf = buf[read:]
		if uint64(len(buf)) < n {
			return "", errors.New("truncated varint string")
		}
		s := string(buf[:n])
		buf = buf[n:]
		return s, nil
	}

	count, read := binary.Uvarint(buf)
	if read <= 0 {
		return nil, errors.New("malformed varint entry count")
	}
	buf = buf[read:]

	lf := &Lockfile{Format: 1, Entries: map[string]*Entry{}}
	for i := uint64(0); i < count; i++ {
		key, err := readVarintString()
		if err != nil {
			return nil, err
		}
		version, err := readVarintString()
		if err != nil {
			return nil, err
		}
		integrity, err := readVarintString()
		if err != nil {
			return nil, err
		}
		resolved, err := readVarintString()
		if err != nil {
			return nil, err
		}
		lf.Entries[key] = &Entry{Version: version, Integrity: integrity, Resolved: resolved}
	}
	return lf, nil
}

func looksLikeJSON(data []byte) bool {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	return len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[')
}

// jsonLockfile mirrors Lockfile's shape for JSON decode/encode, reusing
// the same field names Export produces so the legacy JSON decode path
// and the export path agree on shape.
type jsonLockfile struct {
	Format   uint32                `json:"format"`
	Packages map[string]jsonEntry  `json:"packages"`
}

type jsonEntry struct {
	Version              string              `json:"version,omitempty"`
	Integrity            string              `json:"integrity,omitempty"`
	Resolved             string              `json:"resolved,omitempty"`
	Dependencies         map[string]string   `json:"dependencies,omitempty"`
	DevDependencies      map[string]string   `json:"devDependencies,omitempty"`
	OptionalDependencies map[string]string   `json:"optionalDependencies,omitempty"`
	PeerDependencies     map[string]string   `json:"peerDependencies,omitempty"`
	PeerDependenciesMeta map[string]jsonPeer `json:"peerDependenciesMeta,omitempty"`
	OS                   []string            `json:"os,omitempty"`
	CPU                  []string            `json:"cpu,omitempty"`
	StoreKey             string              `json:"storeKey,omitempty"`
	ContentHash          string              `json:"contentHash,omitempty"`
	LinkMode             string              `json:"linkMode,omitempty"`
	StorePath            string              `json:"storePath,omitempty"`
}

type jsonPeer struct {
	Optional bool `json:"optional"`
}

func decodeJSON(data []byte) (*Lockfile, error) {
	var doc jsonLockfile
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, pkgerr.Wrap(pkgerr.LockfileFormatInvalid, "legacy json", err)
	}
	lf := &Lockfile{Format: doc.Format, Entries: map[string]*Entry{}}
	for key, je := range doc.Packages {
		meta := map[string]PeerMeta{}
		for peer, m := range je.PeerDependenciesMeta {
			meta[peer] = PeerMeta{Optional: m.Optional}
		}
		lf.Entries[key] = &Entry{
			Version:              je.Version,
			Integrity:            je.Integrity,
			Resolved:             je.Resolved,
			Dependencies:         je.Dependencies,
			DevDependencies:      je.DevDependencies,
			OptionalDependencies: je.OptionalDependencies,
			PeerDependencies:     je.PeerDependencies,
			PeerDependenciesMeta: meta,
			OS:                   je.OS,
			CPU:                  je.CPU,
			StoreKey:             je.StoreKey,
			ContentHash:          je.ContentHash,
			LinkMode:             je.LinkMode,
			StorePath:            je.StorePath,
		}
	}
	return lf, nil
}

func toJSONDoc(l *Lockfile) jsonLockfile {
	doc := jsonLockfile{Format: l.Format, Packages: map[string]jsonEntry{}}
	for key, e := range l.Entries {
		meta := map[string]jsonPeer{}
		for peer, m := range e.PeerDependenciesMeta {
			meta[peer] = jsonPeer{Optional: m.Optional}
		}
		doc.Packages[key] = jsonEntry{
			Version:              e.Version,
			Integrity:            e.Integrity,
			Resolved:             e.Resolved,
			Dependencies:         e.Dependencies,
			DevDependencies:      e.DevDependencies,
			OptionalDependencies: e.OptionalDependencies,
			PeerDependencies:     e.PeerDependencies,
			PeerDependenciesMeta: meta,
			OS:                   e.OS,
			CPU:                  e.CPU,
			StoreKey:             e.StoreKey,
			ContentHash:          e.ContentHash,
			LinkMode:             e.LinkMode,
			StorePath:            e.StorePath,
		}
	}
	return doc
}

// Format names the export projection requested of Export.
type Format int

const (
	FormatJSON Format = iota
	FormatYAML
)

// Export produces a stable JSON or YAML projection of the decoded
// lockfile, for the "export" CLI verb.
func Export(l *Lockfile, format Format) ([]byte, error) {
	doc := toJSONDoc(l)
	switch format {
	case FormatJSON:
		return json.MarshalIndent(doc, "", "  ")
	case FormatYAML:
		return yaml.Marshal(doc)
	default:
		return nil, errors.Errorf("unknown export format %d", format)
	}
}
