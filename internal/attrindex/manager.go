package attrindex

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/beetlebugorg/mitab/internal/logger"
	"github.com/beetlebugorg/mitab/internal/minixml"
	"github.com/beetlebugorg/mitab/internal/report"
	"github.com/beetlebugorg/mitab/pkg/feature"
)

// AllFields selects every indexed field in IndexAllFeatures and AddToIndex.
const AllFields = -1

// Catalogue element names.
const (
	catalogueRoot    = "LayerAttrIndex"
	catalogueFile    = "ContainerFile"
	catalogueEntry   = "AttrIndex"
	catalogueField   = "FieldIndex"
	catalogueName    = "FieldName"
	catalogueSlotTag = "IndexIndex"
)

// Options configures a Manager.
type Options struct {
	// CatalogueExt and ContainerExt replace the extension of the layer
	// path to form the catalogue and container file names.
	CatalogueExt string
	ContainerExt string

	// DefaultStringWidth is the key width of String fields declared
	// without a width. Wider fields are clamped to MaxStringWidth.
	DefaultStringWidth int
	MaxStringWidth     int

	// ReadOnly opens existing indexes for lookup only.
	ReadOnly bool

	Logger   *slog.Logger
	Reporter report.Reporter
}

// DefaultOptions returns default options.
func DefaultOptions() Options {
	return Options{
		CatalogueExt:       "idm",
		ContainerExt:       "ind",
		DefaultStringWidth: 64,
		MaxStringWidth:     128,
	}
}

// Manager owns the attribute indexes of one layer. It is not safe for
// concurrent use.
type Manager struct {
	layer         feature.Layer
	cataloguePath string
	containerPath string
	opts          Options
	log           *slog.Logger
	reporter      report.Reporter

	file    *IndexFile
	indexes []*fieldIndex
}

func withExt(path, ext string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + "." + ext
}

// NewManager creates the index manager for layer, whose data lives at
// basePath. If a catalogue already exists next to basePath its indexes are
// loaded before NewManager returns.
func NewManager(layer feature.Layer, basePath string, opts Options) (*Manager, error) {
	def := DefaultOptions()
	if opts.CatalogueExt == "" {
		opts.CatalogueExt = def.CatalogueExt
	}
	if opts.ContainerExt == "" {
		opts.ContainerExt = def.ContainerExt
	}
	if opts.DefaultStringWidth <= 0 {
		opts.DefaultStringWidth = def.DefaultStringWidth
	}
	if opts.MaxStringWidth <= 0 {
		opts.MaxStringWidth = def.MaxStringWidth
	}

	m := &Manager{
		layer:         layer,
		cataloguePath: withExt(basePath, opts.CatalogueExt),
		containerPath: withExt(basePath, opts.ContainerExt),
		opts:          opts,
		log:           logger.Or(opts.Logger),
		reporter:      opts.Reporter,
	}
	if m.reporter == nil {
		m.reporter = report.NewSlog(m.log)
	}

	if _, err := os.Stat(m.cataloguePath); err == nil {
		if err := m.load(); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// CataloguePath returns the path of the XML catalogue.
func (m *Manager) CataloguePath() string { return m.cataloguePath }

// ContainerPath returns the path of the shared index container.
func (m *Manager) ContainerPath() string { return m.containerPath }

func (m *Manager) fail(code report.Code, err error) error {
	m.reporter.Report(report.SeverityFailure, code, "%v", err)
	return err
}

func (m *Manager) load() error {
	root, err := minixml.ParseFile(m.cataloguePath)
	if err != nil {
		return m.fail(report.CodeOpenFailed, fmt.Errorf("failed to load index catalogue: %w", err))
	}
	cat := minixml.GetNode(root, "="+catalogueRoot)
	if cat == nil {
		return m.fail(report.CodeCorrupt, fmt.Errorf("index catalogue %s has no <%s> element", m.cataloguePath, catalogueRoot))
	}

	if name := minixml.GetValue(cat, catalogueFile, ""); name != "" {
		if filepath.IsAbs(name) {
			m.containerPath = name
		} else {
			m.containerPath = filepath.Join(filepath.Dir(m.cataloguePath), name)
		}
	}

	m.file, err = OpenIndexFile(m.containerPath, !m.opts.ReadOnly)
	if err != nil {
		return m.fail(report.CodeOpenFailed, err)
	}

	defn := m.layer.Defn()
	for _, n := range cat.Children {
		if n.Type != minixml.Element || n.Value != catalogueEntry {
			continue
		}
		field, ferr := strconv.Atoi(minixml.GetValue(n, catalogueField, ""))
		slot, serr := strconv.Atoi(minixml.GetValue(n, catalogueSlotTag, ""))
		switch {
		case ferr != nil || serr != nil:
			m.reporter.Report(report.SeverityWarning, report.CodeCorrupt,
				"skipping index catalogue entry with bad field or slot number in %s", m.cataloguePath)
			continue
		case field < 0 || field >= defn.FieldCount():
			m.reporter.Report(report.SeverityWarning, report.CodeCorrupt,
				"skipping index on field %d: layer %s has %d fields", field, defn.Name(), defn.FieldCount())
			continue
		case slot < 1 || slot > m.file.SlotCount():
			m.reporter.Report(report.SeverityWarning, report.CodeCorrupt,
				"skipping index on field %d: slot %d not in %s", field, slot, m.containerPath)
			continue
		case m.lookup(field) != nil:
			m.reporter.Report(report.SeverityWarning, report.CodeCorrupt,
				"skipping duplicate index on field %d in %s", field, m.cataloguePath)
			continue
		}
		if name := minixml.GetValue(n, catalogueName, ""); name != "" && !strings.EqualFold(name, defn.Field(field).Name) {
			m.log.Warn("index catalogue field name differs from layer schema",
				"field", field, "catalogue", name, "schema", defn.Field(field).Name)
		}
		m.indexes = append(m.indexes, &fieldIndex{file: m.file, slot: slot, field: field})
	}

	m.log.Debug("loaded attribute indexes", "catalogue", m.cataloguePath, "indexes", len(m.indexes))
	return nil
}

func (m *Manager) lookup(field int) *fieldIndex {
	for _, x := range m.indexes {
		if x.field == field {
			return x
		}
	}
	return nil
}

// Index returns the index of field, or nil.
func (m *Manager) Index(field int) AttrIndex {
	if x := m.lookup(field); x != nil {
		return x
	}
	return nil
}

// IndexedFields returns the indexed fields in creation order.
func (m *Manager) IndexedFields() []int {
	out := make([]int, len(m.indexes))
	for i, x := range m.indexes {
		out[i] = x.field
	}
	return out
}

// HasIndexes reports whether any field is indexed.
func (m *Manager) HasIndexes() bool { return len(m.indexes) > 0 }

// CreateIndex creates an empty index on field and persists the catalogue.
// Only Integer, Real and String fields can be indexed. The catalogue is left
// unchanged when CreateIndex fails.
func (m *Manager) CreateIndex(field int) error {
	defn := m.layer.Defn()
	if field < 0 || field >= defn.FieldCount() {
		return m.fail(report.CodeIllegalArg, fmt.Errorf("cannot index field %d: layer %s has %d fields", field, defn.Name(), defn.FieldCount()))
	}
	fd := defn.Field(field)

	if m.lookup(field) != nil {
		return m.fail(report.CodeAppDefined, &DuplicateIndexError{Field: fd.Name})
	}
	kt, ok := keyTypeFor(fd.Type)
	if !ok {
		return m.fail(report.CodeNotSupported, &FieldTypeError{Field: fd.Name, Type: fd.Type})
	}
	if m.opts.ReadOnly {
		return m.fail(report.CodeNotSupported, fmt.Errorf("cannot index field %s: %w", fd.Name, ErrReadOnly))
	}

	width := numericKeyWidth
	if kt == KeyString {
		width = fd.Width
		if width <= 0 {
			width = m.opts.DefaultStringWidth
		}
		width = min(width, m.opts.MaxStringWidth)
	}

	if err := m.openContainer(); err != nil {
		return m.fail(report.CodeOpenFailed, err)
	}
	slot, err := m.file.CreateIndex(kt, width)
	if err != nil {
		return m.fail(report.CodeFileIO, err)
	}
	if err := m.file.Flush(); err != nil {
		return m.fail(report.CodeFileIO, err)
	}

	m.indexes = append(m.indexes, &fieldIndex{file: m.file, slot: slot, field: field})
	if err := m.saveCatalogue(); err != nil {
		m.indexes = m.indexes[:len(m.indexes)-1]
		return m.fail(report.CodeFileIO, err)
	}

	m.log.Debug("created attribute index", "field", fd.Name, "slot", slot, "key", kt, "width", width)
	return nil
}

func (m *Manager) openContainer() error {
	if m.file != nil {
		return nil
	}
	var err error
	if _, statErr := os.Stat(m.containerPath); statErr == nil {
		m.file, err = OpenIndexFile(m.containerPath, true)
	} else {
		m.file, err = CreateIndexFile(m.containerPath)
	}
	return err
}

// DropIndex removes the index of field from the catalogue. Its slot in the
// container is abandoned. When no index remains both the catalogue and the
// container file are deleted. A read-only manager fails with ErrReadOnly.
func (m *Manager) DropIndex(field int) error {
	pos := -1
	for i, x := range m.indexes {
		if x.field == field {
			pos = i
			break
		}
	}
	if pos < 0 {
		return m.fail(report.CodeIllegalArg, &NoIndexError{Field: field})
	}
	if m.opts.ReadOnly {
		return m.fail(report.CodeNotSupported, fmt.Errorf("cannot drop index of field %d: %w", field, ErrReadOnly))
	}

	m.indexes = append(m.indexes[:pos], m.indexes[pos+1:]...)
	if len(m.indexes) > 0 {
		if err := m.saveCatalogue(); err != nil {
			return m.fail(report.CodeFileIO, err)
		}
		return nil
	}

	m.file = nil
	for _, p := range []string{m.cataloguePath, m.containerPath} {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return m.fail(report.CodeFileIO, fmt.Errorf("failed to remove %s: %w", p, err))
		}
	}
	m.log.Debug("removed attribute index files", "catalogue", m.cataloguePath)
	return nil
}

// IndexAllFeatures reads every feature of the layer and adds it to the
// index of field, or to every index when field is AllFields. The layer's
// read cursor is reset before and after the scan.
func (m *Manager) IndexAllFeatures(field int) error {
	if field != AllFields && m.lookup(field) == nil {
		return m.fail(report.CodeIllegalArg, &NoIndexError{Field: field})
	}

	m.layer.ResetReading()
	defer m.layer.ResetReading()

	count := 0
	for {
		f, err := m.layer.NextFeature()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return m.fail(report.CodeFileIO, fmt.Errorf("failed to read layer %s: %w", m.layer.Name(), err))
		}
		if err := m.AddToIndex(f, field); err != nil {
			return err
		}
		count++
	}

	if m.file != nil {
		if err := m.file.Flush(); err != nil {
			return m.fail(report.CodeFileIO, err)
		}
	}
	m.log.Debug("indexed layer features", "layer", m.layer.Name(), "features", count)
	return nil
}

// AddToIndex adds f to the index of field, or to every index when field is
// AllFields. Unset values are skipped. Features without a FID are rejected.
func (m *Manager) AddToIndex(f *feature.Feature, field int) error {
	if f.FID() < 0 {
		return m.fail(report.CodeAppDefined, fmt.Errorf("cannot index feature: %w", feature.ErrNoFID))
	}
	for _, x := range m.indexes {
		if field != AllFields && x.field != field {
			continue
		}
		if !f.IsFieldSet(x.field) {
			continue
		}
		if err := x.AddEntry(f.Raw(x.field), f.FID()); err != nil {
			return m.fail(report.CodeFileIO, fmt.Errorf("failed to index feature %d: %w", f.FID(), err))
		}
	}
	return nil
}

// RemoveFromIndex is not supported.
func (m *Manager) RemoveFromIndex(*feature.Feature) error {
	return m.fail(report.CodeNotSupported, fmt.Errorf("remove from attribute index: %w", feature.ErrNotSupported))
}

func (m *Manager) saveCatalogue() error {
	defn := m.layer.Defn()

	root := minixml.NewElement(catalogueRoot)
	minixml.CreateElementAndValue(root, catalogueFile, filepath.Base(m.containerPath))
	for _, x := range m.indexes {
		n := minixml.CreateChild(root, minixml.Element, catalogueEntry)
		minixml.CreateElementAndValue(n, catalogueField, strconv.Itoa(x.field))
		minixml.CreateElementAndValue(n, catalogueName, defn.Field(x.field).Name)
		minixml.CreateElementAndValue(n, catalogueSlotTag, strconv.Itoa(x.slot))
	}

	if err := minixml.SerializeToFile(root, m.cataloguePath); err != nil {
		return fmt.Errorf("failed to save index catalogue: %w", err)
	}
	return nil
}

// Sync writes pending index entries and the catalogue to disk.
func (m *Manager) Sync() error {
	if m.file == nil {
		return nil
	}
	if err := m.file.Flush(); err != nil {
		return m.fail(report.CodeFileIO, err)
	}
	if m.opts.ReadOnly {
		return nil
	}
	if err := m.saveCatalogue(); err != nil {
		return m.fail(report.CodeFileIO, err)
	}
	return nil
}

// Close flushes pending changes.
func (m *Manager) Close() error {
	return m.Sync()
}
