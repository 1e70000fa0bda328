package fdt

import (
	"bytes"
	"fmt"
)

// Flattened devicetree token/header constants (devicetree-spec v0.4 §5).
const (
	magic           = 0xd00dfeed
	tokenBeginNode  = 0x00000001
	tokenEndNode    = 0x00000002
	tokenProp       = 0x00000003
	tokenEnd        = 0x00000009
	version         = 17
	lastCompVersion = 16
	headerSize      = 40
	memRsvMapSize   = 16 // one all-zero terminating entry; no reserved regions
)

// stringTable deduplicates property names into one block, recording each
// name's byte offset the way the flattened format's off-struct-strings
// block requires.
type stringTable struct {
	buf    bytes.Buffer
	offset map[string]uint32
}

func newStringTable() *stringTable {
	return &stringTable{offset: make(map[string]uint32)}
}

func (s *stringTable) intern(name string) uint32 {
	if off, ok := s.offset[name]; ok {
		return off
	}
	off := uint32(s.buf.Len())
	s.buf.WriteString(name)
	s.buf.WriteByte(0)
	s.offset[name] = off
	return off
}

func (s *stringTable) bytes() []byte {
	b := s.buf.Bytes()
	for len(b)%4 != 0 {
		b = append(b, 0)
	}
	return b
}

func putU32(buf *bytes.Buffer, v uint32) { buf.Write(beU32(v)) }

func padAlign4(buf *bytes.Buffer) {
	for buf.Len()%4 != 0 {
		buf.WriteByte(0)
	}
}

func writeNode(buf *bytes.Buffer, strs *stringTable, n *Node) {
	putU32(buf, tokenBeginNode)
	buf.WriteString(n.Name)
	buf.WriteByte(0)
	padAlign4(buf)
	for _, p := range n.props {
		putU32(buf, tokenProp)
		putU32(buf, uint32(len(p.Value)))
		putU32(buf, strs.intern(p.Name))
		buf.Write(p.Value)
		padAlign4(buf)
	}
	for _, c := range n.children {
		writeNode(buf, strs, c)
	}
	putU32(buf, tokenEndNode)
}

// buildBlocks renders the struct and strings blocks once; Size and
// Serialize both call it so their totals can never diverge.
func buildBlocks(root *Node) (structBytes, stringBytes []byte) {
	var structBuf bytes.Buffer
	strs := newStringTable()
	writeNode(&structBuf, strs, root)
	putU32(&structBuf, tokenEnd)
	padAlign4(&structBuf)
	return structBuf.Bytes(), strs.bytes()
}

// Size returns the total serialized size of root, the same value
// Serialize returns when given enough room.
func Size(root *Node) int {
	structBytes, stringBytes := buildBlocks(root)
	return headerSize + memRsvMapSize + len(structBytes) + len(stringBytes)
}

// Serialize encodes root into buf[:size] in the flattened devicetree
// format, using bootCPUID as the header's boot_cpuid_phys field. It
// always returns the tree's total required size; when size is at least
// that large the tree is written into buf and the error is nil, matching
// fdt_size(root) == fdt_serialize(root, buf, size, 0) for size >=
// fdt_size(root).
func Serialize(root *Node, buf []byte, size int, bootCPUID uint32) (int, error) {
	structBytes, stringBytes := buildBlocks(root)
	total := headerSize + memRsvMapSize + len(structBytes) + len(stringBytes)
	if size < total {
		return total, nil
	}
	if len(buf) < total {
		return total, fmt.Errorf("fdt: buf too small: need %d bytes, have %d", total, len(buf))
	}

	structOff := uint32(headerSize + memRsvMapSize)
	stringsOff := structOff + uint32(len(structBytes))

	var hdr bytes.Buffer
	putU32(&hdr, magic)
	putU32(&hdr, uint32(total))
	putU32(&hdr, structOff)
	putU32(&hdr, stringsOff)
	putU32(&hdr, headerSize)
	putU32(&hdr, version)
	putU32(&hdr, lastCompVersion)
	putU32(&hdr, bootCPUID)
	putU32(&hdr, uint32(len(stringBytes)))
	putU32(&hdr, uint32(len(structBytes)))

	copy(buf, hdr.Bytes())
	// memRsvMapSize bytes at buf[headerSize:] are already the required
	// all-zero terminating entry (buf is assumed zeroed by the caller,
	// or we zero it explicitly here since Go slices aren't guaranteed
	// to start zeroed when reused).
	for i := headerSize; i < headerSize+memRsvMapSize; i++ {
		buf[i] = 0
	}
	copy(buf[structOff:], structBytes)
	copy(buf[stringsOff:], stringBytes)
	return total, nil
}
