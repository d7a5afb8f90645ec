package attrindex

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/google/btree"

	"github.com/beetlebugorg/mitab/internal/metrics"
	"github.com/beetlebugorg/mitab/pkg/feature"
)

// Container file layout, all integers big-endian:
//
//	magic    [4]byte "MIND"
//	version  uint16
//	slots    uint16
//	per slot: key type uint8, key width uint16, entry count uint32
//	per slot, in slot order: entry count × (key [width]byte, id uint32)
//
// Entries of a slot are written in key order, duplicates in insertion order.
var indMagic = [4]byte{'M', 'I', 'N', 'D'}

const (
	indVersion = 1
	maxSlots   = math.MaxUint16
	btreeOrder = 32
)

// ErrReadOnly is returned when a container opened for reading is modified.
var ErrReadOnly = errors.New("index file opened read-only")

// FormatError reports a container file that could not be decoded.
type FormatError struct {
	Path   string
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("corrupt index file %s: %s", e.Path, e.Reason)
}

type entry struct {
	key []byte
	id  uint32
	seq uint64
}

func lessEntry(a, b entry) bool {
	if c := bytes.Compare(a.key, b.key); c != 0 {
		return c < 0
	}
	return a.seq < b.seq
}

type slot struct {
	keyType KeyType
	width   int
	tree    *btree.BTreeG[entry]
	nextSeq uint64

	// position of the last FindFirst/FindNext hit
	cursorKey []byte
	cursorSeq uint64
	cursorOK  bool
}

func newSlot(t KeyType, width int) *slot {
	return &slot{keyType: t, width: width, tree: btree.NewG(btreeOrder, lessEntry)}
}

// IndexFile is the shared container holding every index slot of a layer.
// Slots are numbered from 1. Identifiers stored in it are 1-based; 0 means
// no match.
type IndexFile struct {
	path     string
	writable bool
	dirty    bool
	slots    []*slot
}

// CreateIndexFile creates an empty container at path, replacing any
// existing file.
func CreateIndexFile(path string) (*IndexFile, error) {
	f := &IndexFile{path: path, writable: true, dirty: true}
	if err := f.Flush(); err != nil {
		return nil, err
	}
	return f, nil
}

// OpenIndexFile loads the container at path. When writable is false every
// mutation fails with ErrReadOnly.
func OpenIndexFile(path string, writable bool) (*IndexFile, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open index file: %w", err)
	}
	defer fh.Close()

	f := &IndexFile{path: path, writable: writable}
	if err := f.decode(bufio.NewReader(fh)); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *IndexFile) decode(r io.Reader) error {
	var hdr struct {
		Magic   [4]byte
		Version uint16
		Slots   uint16
	}
	if err := binary.Read(r, binary.BigEndian, &hdr); err != nil {
		return &FormatError{Path: f.path, Reason: "short header"}
	}
	if hdr.Magic != indMagic {
		return &FormatError{Path: f.path, Reason: "bad magic"}
	}
	if hdr.Version != indVersion {
		return &FormatError{Path: f.path, Reason: fmt.Sprintf("unsupported version %d", hdr.Version)}
	}

	type slotHeader struct {
		KeyType uint8
		Width   uint16
		Entries uint32
	}
	headers := make([]slotHeader, hdr.Slots)
	if err := binary.Read(r, binary.BigEndian, headers); err != nil {
		return &FormatError{Path: f.path, Reason: "short slot table"}
	}

	f.slots = make([]*slot, len(headers))
	for i, h := range headers {
		kt := KeyType(h.KeyType)
		if !kt.valid() || h.Width == 0 {
			return &FormatError{Path: f.path, Reason: fmt.Sprintf("slot %d has bad key type %d or width %d", i+1, h.KeyType, h.Width)}
		}
		s := newSlot(kt, int(h.Width))
		for j := uint32(0); j < h.Entries; j++ {
			key := make([]byte, s.width)
			if _, err := io.ReadFull(r, key); err != nil {
				return &FormatError{Path: f.path, Reason: fmt.Sprintf("slot %d truncated", i+1)}
			}
			var id uint32
			if err := binary.Read(r, binary.BigEndian, &id); err != nil {
				return &FormatError{Path: f.path, Reason: fmt.Sprintf("slot %d truncated", i+1)}
			}
			s.tree.ReplaceOrInsert(entry{key: key, id: id, seq: s.nextSeq})
			s.nextSeq++
		}
		f.slots[i] = s
	}
	return nil
}

// Path returns the container file path.
func (f *IndexFile) Path() string { return f.path }

// SlotCount returns the number of allocated slots, dropped ones included.
func (f *IndexFile) SlotCount() int { return len(f.slots) }

func (f *IndexFile) slot(n int) (*slot, error) {
	if n < 1 || n > len(f.slots) {
		return nil, fmt.Errorf("index slot %d out of range (1..%d)", n, len(f.slots))
	}
	return f.slots[n-1], nil
}

// CreateIndex allocates a new slot for keys of type t and the given width
// and returns its 1-based number. Width is ignored for numeric keys.
func (f *IndexFile) CreateIndex(t KeyType, width int) (int, error) {
	if !f.writable {
		return 0, ErrReadOnly
	}
	if !t.valid() {
		return 0, fmt.Errorf("invalid key type %d", t)
	}
	if t != KeyString {
		width = numericKeyWidth
	}
	if width < 1 || width > math.MaxUint16 {
		return 0, fmt.Errorf("invalid key width %d", width)
	}
	if len(f.slots) >= maxSlots {
		return 0, fmt.Errorf("index file %s is full", f.path)
	}
	f.slots = append(f.slots, newSlot(t, width))
	f.dirty = true
	return len(f.slots), nil
}

// BuildKey encodes v in the key space of slot n.
func (f *IndexFile) BuildKey(n int, v feature.Value) ([]byte, error) {
	s, err := f.slot(n)
	if err != nil {
		return nil, err
	}
	return encodeKey(s.keyType, s.width, v), nil
}

// AddEntry records id (1-based) under key in slot n.
func (f *IndexFile) AddEntry(n int, key []byte, id uint32) error {
	if !f.writable {
		return ErrReadOnly
	}
	if id == 0 {
		return fmt.Errorf("index entry id must be 1-based")
	}
	s, err := f.slot(n)
	if err != nil {
		return err
	}
	if len(key) != s.width {
		return fmt.Errorf("key width %d does not match slot %d width %d", len(key), n, s.width)
	}
	s.tree.ReplaceOrInsert(entry{key: append([]byte(nil), key...), id: id, seq: s.nextSeq})
	s.nextSeq++
	f.dirty = true
	metrics.IndexEntriesAdded.Inc()
	return nil
}

// FindFirst returns the first id stored under key in slot n, or 0.
func (f *IndexFile) FindFirst(n int, key []byte) (uint32, error) {
	s, err := f.slot(n)
	if err != nil {
		return 0, err
	}
	return s.find(key, 0), nil
}

// FindNext returns the id following the previous FindFirst or FindNext hit
// for the same key, or 0 once the key is exhausted. With no previous hit
// for key it behaves as FindFirst.
func (f *IndexFile) FindNext(n int, key []byte) (uint32, error) {
	s, err := f.slot(n)
	if err != nil {
		return 0, err
	}
	if !s.cursorOK || !bytes.Equal(s.cursorKey, key) {
		return s.find(key, 0), nil
	}
	return s.find(key, s.cursorSeq+1), nil
}

func (s *slot) find(key []byte, fromSeq uint64) uint32 {
	var hit entry
	found := false
	s.tree.AscendGreaterOrEqual(entry{key: key, seq: fromSeq}, func(e entry) bool {
		if bytes.Equal(e.key, key) {
			hit = e
			found = true
		}
		return false
	})

	if !found {
		s.cursorOK = false
		metrics.IndexLookups.WithLabelValues("miss").Inc()
		return 0
	}
	s.cursorKey = hit.key
	s.cursorSeq = hit.seq
	s.cursorOK = true
	metrics.IndexLookups.WithLabelValues("hit").Inc()
	return hit.id
}

// Flush writes the container to disk if it changed. The file is written to
// a temporary sibling and renamed into place.
func (f *IndexFile) Flush() error {
	if !f.writable || !f.dirty {
		return nil
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), filepath.Base(f.path)+".tmp*")
	if err != nil {
		return fmt.Errorf("failed to create index file: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	if err := f.encode(w); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write index file: %w", err)
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write index file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write index file: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("failed to write index file: %w", err)
	}
	f.dirty = false
	return nil
}

func (f *IndexFile) encode(w io.Writer) error {
	hdr := struct {
		Magic   [4]byte
		Version uint16
		Slots   uint16
	}{indMagic, indVersion, uint16(len(f.slots))}
	if err := binary.Write(w, binary.BigEndian, hdr); err != nil {
		return err
	}

	for _, s := range f.slots {
		sh := struct {
			KeyType uint8
			Width   uint16
			Entries uint32
		}{uint8(s.keyType), uint16(s.width), uint32(s.tree.Len())}
		if err := binary.Write(w, binary.BigEndian, sh); err != nil {
			return err
		}
	}

	var werr error
	idBuf := make([]byte, 4)
	for _, s := range f.slots {
		s.tree.Ascend(func(e entry) bool {
			if _, werr = w.Write(e.key); werr != nil {
				return false
			}
			binary.BigEndian.PutUint32(idBuf, e.id)
			_, werr = w.Write(idBuf)
			return werr == nil
		})
		if werr != nil {
			return werr
		}
	}
	return nil
}

// Close flushes pending changes.
func (f *IndexFile) Close() error {
	return f.Flush()
}
