package graph

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/sanonone/kartadb/pkg/persistence"
)

// FormatVersion is the snapshot format version. The closed relation
// vocabulary is part of the format: extending it requires bumping this.
const FormatVersion = 1

// Section tags, written in this fixed order. Offsets inside every section
// are little-endian 32-bit values relative to the section start.
const (
	secHeader byte = iota + 1
	secStringPool
	secNodeTable
	secContentTable
	secNotesTable
	secRelationTable
	secAdjacencyIndex
	secIDHashTable
)

// EncodeSnapshot writes the store to w in the KartaDB snapshot format: one
// checksummed frame per section, sections in fixed order. Encoding is a pure
// function of the store, so equal builds produce byte-identical output.
func (s *Store) EncodeSnapshot(w io.Writer) error {
	var enc sectionEncoder

	// Header: version and the counts needed to pre-size everything on load.
	enc.u32(FormatVersion)
	enc.u32(uint32(len(s.nodes)))
	enc.u32(uint32(len(s.edges)))
	enc.u32(uint32(len(s.noteRefs)))
	enc.u32(uint32(len(s.metaPairs)))
	enc.u32(uint32(len(s.idSlots)))
	enc.u32(uint32(len(s.pool)))
	if err := enc.flush(w, secHeader); err != nil {
		return err
	}

	// StringPool: raw interned bytes.
	if err := persistence.WriteFrame(w, secStringPool, []byte(s.pool)); err != nil {
		return err
	}

	// NodeTable: fixed rows, then the flat metadata pair array.
	for _, n := range s.nodes {
		enc.u32(n.id.off)
		enc.u32(n.id.n)
		enc.u32(uint32(n.kind))
		enc.u32(n.notesStart)
		enc.u32(n.notesCount)
		enc.u32(n.metaStart)
		enc.u32(n.metaCount)
	}
	for _, p := range s.metaPairs {
		enc.u32(p.key.off)
		enc.u32(p.key.n)
		enc.u32(p.val.off)
		enc.u32(p.val.n)
	}
	if err := enc.flush(w, secNodeTable); err != nil {
		return err
	}

	// ContentTable: per-node content refs.
	for _, n := range s.nodes {
		enc.u32(n.content.off)
		enc.u32(n.content.n)
	}
	if err := enc.flush(w, secContentTable); err != nil {
		return err
	}

	// NotesTable: flat note refs; ranges live in the NodeTable rows.
	for _, r := range s.noteRefs {
		enc.u32(r.off)
		enc.u32(r.n)
	}
	if err := enc.flush(w, secNotesTable); err != nil {
		return err
	}

	// RelationTable: edges sorted by source index.
	for _, e := range s.edges {
		enc.u32(e.Source)
		enc.u32(uint32(e.Type))
		enc.u32(e.Target)
	}
	if err := enc.flush(w, secRelationTable); err != nil {
		return err
	}

	// AdjacencyIndex: per-node ranges, then the incoming edge permutation.
	for _, a := range s.adj {
		enc.u32(a.outStart)
		enc.u32(a.outCount)
		enc.u32(a.inStart)
		enc.u32(a.inCount)
	}
	for _, idx := range s.incoming {
		enc.u32(idx)
	}
	if err := enc.flush(w, secAdjacencyIndex); err != nil {
		return err
	}

	// IdHashTable: the slot array verbatim, so loading never rehashes.
	for _, slot := range s.idSlots {
		enc.u32(slot)
	}
	return enc.flush(w, secIDHashTable)
}

// DecodeSnapshot reads a store from the KartaDB snapshot format. The decoded
// store is behaviorally identical to the one that was encoded.
func DecodeSnapshot(r io.Reader) (*Store, error) {
	hdr, err := readSection(r, secHeader)
	if err != nil {
		return nil, err
	}
	if len(hdr.buf) != 7*4 {
		return nil, fmt.Errorf("%w: header size", ErrBadSnapshot)
	}
	if v := hdr.u32(); v != FormatVersion {
		return nil, fmt.Errorf("%w: got version %d, want %d", ErrVersionMismatch, v, FormatVersion)
	}
	nodeCount := int(hdr.u32())
	edgeCount := int(hdr.u32())
	noteCount := int(hdr.u32())
	metaCount := int(hdr.u32())
	slotCount := int(hdr.u32())
	poolLen := int(hdr.u32())

	// FindByID probes until it hits an empty slot, so the table must keep
	// the builder's sizing: power-of-two capacity at a load factor of at
	// most 0.75. A full table would make a missing-id probe loop forever.
	if slotCount < 8 || slotCount&(slotCount-1) != 0 || slotCount*3 < nodeCount*4 {
		return nil, fmt.Errorf("%w: id hash table capacity", ErrBadSnapshot)
	}

	poolSec, err := readSection(r, secStringPool)
	if err != nil {
		return nil, err
	}
	if len(poolSec.buf) != poolLen {
		return nil, fmt.Errorf("%w: string pool size", ErrBadSnapshot)
	}
	st := &Store{pool: string(poolSec.buf)}

	checkRef := func(ref strRef) error {
		if int(ref.off)+int(ref.n) > poolLen {
			return fmt.Errorf("%w: string ref out of pool", ErrBadSnapshot)
		}
		return nil
	}

	nodeSec, err := readSection(r, secNodeTable)
	if err != nil {
		return nil, err
	}
	if len(nodeSec.buf) != nodeCount*7*4+metaCount*4*4 {
		return nil, fmt.Errorf("%w: node table size", ErrBadSnapshot)
	}
	st.nodes = make([]nodeEntry, nodeCount)
	for i := range st.nodes {
		n := &st.nodes[i]
		n.id = strRef{off: nodeSec.u32(), n: nodeSec.u32()}
		kind := nodeSec.u32()
		if int(kind) >= len(kindNames) {
			return nil, fmt.Errorf("%w: node kind %d", ErrBadSnapshot, kind)
		}
		n.kind = Kind(kind)
		n.notesStart = nodeSec.u32()
		n.notesCount = nodeSec.u32()
		n.metaStart = nodeSec.u32()
		n.metaCount = nodeSec.u32()
		if err := checkRef(n.id); err != nil {
			return nil, err
		}
		if int(n.notesStart)+int(n.notesCount) > noteCount {
			return nil, fmt.Errorf("%w: notes range", ErrBadSnapshot)
		}
		if int(n.metaStart)+int(n.metaCount) > metaCount {
			return nil, fmt.Errorf("%w: metadata range", ErrBadSnapshot)
		}
	}
	st.metaPairs = make([]metaPair, metaCount)
	for i := range st.metaPairs {
		p := &st.metaPairs[i]
		p.key = strRef{off: nodeSec.u32(), n: nodeSec.u32()}
		p.val = strRef{off: nodeSec.u32(), n: nodeSec.u32()}
		if err := checkRef(p.key); err != nil {
			return nil, err
		}
		if err := checkRef(p.val); err != nil {
			return nil, err
		}
	}

	contentSec, err := readSection(r, secContentTable)
	if err != nil {
		return nil, err
	}
	if len(contentSec.buf) != nodeCount*2*4 {
		return nil, fmt.Errorf("%w: content table size", ErrBadSnapshot)
	}
	for i := range st.nodes {
		st.nodes[i].content = strRef{off: contentSec.u32(), n: contentSec.u32()}
		if err := checkRef(st.nodes[i].content); err != nil {
			return nil, err
		}
	}

	notesSec, err := readSection(r, secNotesTable)
	if err != nil {
		return nil, err
	}
	if len(notesSec.buf) != noteCount*2*4 {
		return nil, fmt.Errorf("%w: notes table size", ErrBadSnapshot)
	}
	st.noteRefs = make([]strRef, noteCount)
	for i := range st.noteRefs {
		st.noteRefs[i] = strRef{off: notesSec.u32(), n: notesSec.u32()}
		if err := checkRef(st.noteRefs[i]); err != nil {
			return nil, err
		}
	}

	relSec, err := readSection(r, secRelationTable)
	if err != nil {
		return nil, err
	}
	if len(relSec.buf) != edgeCount*3*4 {
		return nil, fmt.Errorf("%w: relation table size", ErrBadSnapshot)
	}
	st.edges = make([]Edge, edgeCount)
	for i := range st.edges {
		src := relSec.u32()
		typ := relSec.u32()
		dst := relSec.u32()
		if int(src) >= nodeCount || int(dst) >= nodeCount {
			return nil, fmt.Errorf("%w: edge index out of range", ErrBadSnapshot)
		}
		if int(typ) >= NumRelationTypes {
			return nil, fmt.Errorf("%w: relation type %d", ErrBadSnapshot, typ)
		}
		st.edges[i] = Edge{Source: src, Type: RelationType(typ), Target: dst}
	}

	adjSec, err := readSection(r, secAdjacencyIndex)
	if err != nil {
		return nil, err
	}
	if len(adjSec.buf) != nodeCount*4*4+edgeCount*4 {
		return nil, fmt.Errorf("%w: adjacency index size", ErrBadSnapshot)
	}
	st.adj = make([]adjEntry, nodeCount)
	for i := range st.adj {
		a := &st.adj[i]
		a.outStart = adjSec.u32()
		a.outCount = adjSec.u32()
		a.inStart = adjSec.u32()
		a.inCount = adjSec.u32()
		if int(a.outStart)+int(a.outCount) > edgeCount || int(a.inStart)+int(a.inCount) > edgeCount {
			return nil, fmt.Errorf("%w: adjacency range", ErrBadSnapshot)
		}
	}
	st.incoming = make([]uint32, edgeCount)
	for i := range st.incoming {
		st.incoming[i] = adjSec.u32()
		if int(st.incoming[i]) >= edgeCount {
			return nil, fmt.Errorf("%w: incoming permutation", ErrBadSnapshot)
		}
	}

	slotSec, err := readSection(r, secIDHashTable)
	if err != nil {
		return nil, err
	}
	if len(slotSec.buf) != slotCount*4 {
		return nil, fmt.Errorf("%w: id hash table size", ErrBadSnapshot)
	}
	st.idSlots = make([]uint32, slotCount)
	hasEmpty := false
	for i := range st.idSlots {
		st.idSlots[i] = slotSec.u32()
		if st.idSlots[i] > uint32(nodeCount) {
			return nil, fmt.Errorf("%w: id hash slot", ErrBadSnapshot)
		}
		if st.idSlots[i] == 0 {
			hasEmpty = true
		}
	}
	if !hasEmpty {
		return nil, fmt.Errorf("%w: id hash table has no empty slot", ErrBadSnapshot)
	}

	return st, nil
}

// sectionEncoder accumulates little-endian u32 values and flushes them as
// one frame.
type sectionEncoder struct {
	buf []byte
}

func (e *sectionEncoder) u32(v uint32) {
	e.buf = binary.LittleEndian.AppendUint32(e.buf, v)
}

func (e *sectionEncoder) flush(w io.Writer, section byte) error {
	err := persistence.WriteFrame(w, section, e.buf)
	e.buf = e.buf[:0]
	return err
}

// sectionDecoder consumes little-endian u32 values from a frame payload.
type sectionDecoder struct {
	buf []byte
}

func (d *sectionDecoder) u32() uint32 {
	v := binary.LittleEndian.Uint32(d.buf[:4])
	d.buf = d.buf[4:]
	return v
}

func readSection(r io.Reader, want byte) (*sectionDecoder, error) {
	section, payload, err := persistence.ReadFrame(r)
	if err != nil {
		return nil, fmt.Errorf("reading snapshot section %d: %w", want, err)
	}
	if section != want {
		return nil, fmt.Errorf("%w: got section %d, want %d", ErrBadSnapshot, section, want)
	}
	return &sectionDecoder{buf: payload}, nil
}
