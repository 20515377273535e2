package lockfile

import (
	"bytes"
	"encoding/binary"
	"sort"

	"github.com/pkg/errors"
)

func sortStrings(s []string) { sort.Strings(s) }

func writeUint16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeString(buf *bytes.Buffer, s string) {
	writeUint32(buf, uint32(len(s)))
	buf.WriteString(s)
}

func writeOptionString(buf *bytes.Buffer, s string) {
	if s == "" {
		buf.WriteByte(0)
		return
	}
	buf.WriteByte(1)
	writeString(buf, s)
}

func writeStringMap(buf *bytes.Buffer, m map[string]string) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	writeUint32(buf, uint32(len(keys)))
	for _, k := range keys {
		writeString(buf, k)
		writeString(buf, m[k])
	}
}

func writePeerMetaMap(buf *bytes.Buffer, m map[string]PeerMeta) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	writeUint32(buf, uint32(len(keys)))
	for _, k := range keys {
		writeString(buf, k)
		if m[k].Optional {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	}
}

func writeStringList(buf *bytes.Buffer, list []string) {
	writeUint32(buf, uint32(len(list)))
	for _, s := range list {
		writeString(buf, s)
	}
}

// reader walks a byte slice while enforcing the codec's cumulative
// size cap.
type reader struct {
	buf []byte
	pos int
	cap int
}

func (r *reader) remaining() int { return len(r.buf) - r.pos }

func (r *reader) checkCap(n int) error {
	if r.pos+n > r.cap {
		return errors.New("lockfile exceeds size cap")
	}
	return nil
}

func (r *reader) skip(n int) error {
	if err := r.checkCap(n); err != nil {
		return err
	}
	if r.remaining() < n {
		return errors.New("unexpected end of lockfile")
	}
	r.pos += n
	return nil
}

func (r *reader) readUint16() (uint16, error) {
	if r.remaining() < 2 {
		return 0, errors.New("unexpected end of lockfile reading uint16")
	}
	v := binary.LittleEndian.Uint16(r.buf[r.pos:])
	r.pos += 2
	return v, nil
}

func (r *reader) readUint32() (uint32, error) {
	if r.remaining() < 4 {
		return 0, errors.New("unexpected end of lockfile reading uint32")
	}
	v := binary.LittleEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *reader) readString() (string, error) {
	n, err := r.readUint32()
	if err != nil {
		return "", err
	}
	if err := r.checkCap(int(n)); err != nil {
		return "", err
	}
	if r.remaining() < int(n) {
		return "", errors.New("unexpected end of lockfile reading string")
	}
	s := string(r.buf[r.pos : r.pos+int(n)])
	r.pos += int(n)
	return s, nil
}

func (r *reader) readOptionString() (string, error) {
	if r.remaining() < 1 {
		return "", errors.New("unexpected end of lockfile reading option tag")
	}
	tag := r.buf[r.pos]
	r.pos++
	if tag == 0 {
		return "", nil
	}
	return r.readString()
}

func (r *reader) readStringMap() (map[string]string, error) {
	count, err := r.readUint32()
	if err != nil {
		return nil, err
	}
	m := make(map[string]string, count)
	for i := uint32(0); i < count; i++ {
		k, err := r.readString()
		if err != nil {
			return nil, err
		}
		v, err := r.readString()
		if err != nil {
			return nil, err
		}
		m[k] = v
	}
	return m, nil
}

func (r *reader) readPeerMetaMap() (map[string]PeerMeta, error) {
	count, err := r.readUint32()
	if err != nil {
		return nil, err
	}
	m := make(map[string]PeerMeta, count)
	for i := uint32(0); i < count; i++ {
		k, err := r.readString()
		if err != nil {
			return nil, err
		}
		if r.remaining() < 1 {
			return nil, errors.New("unexpected end of lockfile reading peer-meta flag")
		}
		optional := r.buf[r.pos] == 1
		r.pos++
		m[k] = PeerMeta{Optional: optional}
	}
	return m, nil
}

func (r *reader) readStringList() ([]string, error) {
	count, err := r.readUint32()
	if err != nil {
		return nil, err
	}
	list := make([]string, count)
	for i := uint32(0); i < count; i++ {
		s, err := r.readString()
		if err != nil {
			return nil, err
		}
		list[i] = s
	}
	return list, nil
}
