package lockfile

import (
	"encoding/binary"
	"testing"
)

func sampleLockfile() *Lockfile {
	l := New(1)
	l.Entries[""] = &Entry{
		Version:      "1.0.0",
		Dependencies: map[string]string{"left-pad": "^1.3.0"},
	}
	l.Entries["node_modules/left-pad"] = &Entry{
		Version:     "1.3.0",
		Integrity:   "sha512-abc",
		Resolved:    "https://registry.example/left-pad-1.3.0.tgz",
		OS:          []string{"linux", "darwin"},
		CPU:         []string{"x64"},
		StoreKey:    "left-pad@1.3.0::sha256-xyz",
		ContentHash: "sha256-deadbeef",
		LinkMode:    "link",
		StorePath:   "/store/packages/left-pad/left-pad@1.3.0_sha256-xyz/package",
		PeerDependenciesMeta: map[string]PeerMeta{
			"react": {Optional: true},
		},
	}
	return l
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	l := sampleLockfile()
	data, err := Encode(l)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if string(data[:8]) != magic {
		t.Fatalf("expected magic header, got %q", data[:8])
	}

	got, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Format != l.Format {
		t.Fatalf("Format = %d, want %d", got.Format, l.Format)
	}
	entry, ok := got.Entries["node_modules/left-pad"]
	if !ok {
		t.Fatal("expected left-pad entry to round-trip")
	}
	if entry.Version != "1.3.0" || entry.Integrity != "sha512-abc" || entry.StoreKey != "left-pad@1.3.0::sha256-xyz" {
		t.Fatalf("unexpected round-tripped entry: %+v", entry)
	}
	if !entry.PeerDependenciesMeta["react"].Optional {
		t.Fatal("expected react peer meta to round-trip as optional")
	}
	root, ok := got.Entries[""]
	if !ok || root.Dependencies["left-pad"] != "^1.3.0" {
		t.Fatalf("expected root entry to round-trip its dependency map, got %+v", root)
	}
}

func TestDecodeRejectsFormatZero(t *testing.T) {
	l := sampleLockfile()
	l.Format = 0
	data, err := Encode(l)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if _, err := Decode(data); err == nil {
		t.Fatal("expected format=0 to be rejected")
	}
}

func TestDecodeRejectsOversizedLockfile(t *testing.T) {
	huge := make([]byte, sizeCap+1)
	copy(huge, magic)
	if _, err := Decode(huge); err == nil {
		t.Fatal("expected oversized lockfile to be rejected")
	}
}

func TestDecodeLegacyVarintShape(t *testing.T) {
	var buf []byte
	buf = append(buf, "PLKV"...)
	appendUvarint := func(v uint64) {
		tmp := make([]byte, binary.MaxVarintLen64)
		n := binary.PutUvarint(tmp, v)
		buf = append(buf, tmp[:n]...)
	}
	appendVarintString := func(s string) {
		appendUvarint(uint64(len(s)))
		buf = append(buf, s...)
	}

	appendUvarint(1) // one entry
	appendVarintString("node_modules/left-pad")
	appendVarintString("1.3.0")
	appendVarintString("sha512-abc")
	appendVarintString("https://registry.example/left-pad-1.3.0.tgz")

	lf, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode legacy varint: %v", err)
	}
	entry, ok := lf.Entries["node_modules/left-pad"]
	if !ok || entry.Version != "1.3.0" {
		t.Fatalf("unexpected legacy decode result: %+v", lf.Entries)
	}
}

func TestDecodeLegacyJSON(t *testing.T) {
	doc := []byte(`{"format":1,"packages":{"node_modules/left-pad":{"version":"1.3.0","integrity":"sha512-abc"}}}`)
	lf, err := Decode(doc)
	if err != nil {
		t.Fatalf("Decode legacy json: %v", err)
	}
	entry, ok := lf.Entries["node_modules/left-pad"]
	if !ok || entry.Version != "1.3.0" {
		t.Fatalf("unexpected json decode result: %+v", lf.Entries)
	}
}

func TestExportJSONAndYAML(t *testing.T) {
	l := sampleLockfile()

	jsonBytes, err := Export(l, FormatJSON)
	if err != nil {
		t.Fatalf("Export JSON: %v", err)
	}
	if len(jsonBytes) == 0 {
		t.Fatal("expected non-empty JSON export")
	}

	yamlBytes, err := Export(l, FormatYAML)
	if err != nil {
		t.Fatalf("Export YAML: %v", err)
	}
	if len(yamlBytes) == 0 {
		t.Fatal("expected non-empty YAML export")
	}
}

func TestSyncFromManifestEnsuresChildEntries(t *testing.T) {
	l := New(1)
	l.SyncFromManifest("2.0.0",
		map[string]string{"left-pad": "^1.0.0"},
		map[string]string{"jest": "^29.0.0"},
		map[string]string{"fsevents": "^2.0.0"},
		nil,
	)

	for _, key := range []string{"", "node_modules/left-pad", "node_modules/jest", "node_modules/fsevents"} {
		if _, ok := l.Entries[key]; !ok {
			t.Fatalf("expected entry %q after sync", key)
		}
	}
	if l.Entries[""].Version != "2.0.0" {
		t.Fatalf("root version = %q", l.Entries[""].Version)
	}
}
