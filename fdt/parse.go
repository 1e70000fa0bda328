package fdt

import (
	"encoding/binary"
	"errors"
)

// ErrMalformed reports a blob that isn't a well-formed flattened
// devicetree (bad magic, truncated structure block, or an unterminated
// string).
var ErrMalformed = errors.New("fdt: malformed blob")

// ErrNotFound reports a well-formed blob with no "chosen/bootargs"
// property.
var ErrNotFound = errors.New("fdt: bootargs not found")

// GetBootargsFromFDT walks a serialized blob and returns the "bootargs"
// string property of its "chosen" node, the round-trip spec.md §8 names
// (set_cmdline(s); get_bootargs_from_fdt() == s).
func GetBootargsFromFDT(blob []byte) (string, error) {
	if len(blob) < headerSize || binary.BigEndian.Uint32(blob[0:4]) != magic {
		return "", ErrMalformed
	}
	structOff := binary.BigEndian.Uint32(blob[8:12])
	structSize := binary.BigEndian.Uint32(blob[36:40])
	stringsOff := binary.BigEndian.Uint32(blob[12:16])
	if int(structOff+structSize) > len(blob) {
		return "", ErrMalformed
	}
	struc := blob[structOff : structOff+structSize]

	var path []string
	pos := 0
	for pos+4 <= len(struc) {
		tok := binary.BigEndian.Uint32(struc[pos:])
		pos += 4
		switch tok {
		case tokenBeginNode:
			name, n, ok := readCString(struc, pos)
			if !ok {
				return "", ErrMalformed
			}
			pos = align4(n)
			path = append(path, name)
		case tokenEndNode:
			if len(path) == 0 {
				return "", ErrMalformed
			}
			path = path[:len(path)-1]
		case tokenProp:
			if pos+8 > len(struc) {
				return "", ErrMalformed
			}
			length := binary.BigEndian.Uint32(struc[pos:])
			nameOff := binary.BigEndian.Uint32(struc[pos+4:])
			pos += 8
			if int(pos)+int(length) > len(struc) {
				return "", ErrMalformed
			}
			value := struc[pos : pos+int(length)]
			pos = align4(pos + int(length))

			name, ok := readStringAt(blob, stringsOff, nameOff)
			if ok && name == "bootargs" && len(path) > 0 && path[len(path)-1] == "chosen" {
				return cString(value), nil
			}
		case tokenEnd:
			return "", ErrNotFound
		default:
			return "", ErrMalformed
		}
	}
	return "", ErrNotFound
}

func align4(n int) int {
	if n%4 != 0 {
		n += 4 - n%4
	}
	return n
}

func readCString(buf []byte, off int) (string, int, bool) {
	for i := off; i < len(buf); i++ {
		if buf[i] == 0 {
			return string(buf[off:i]), i + 1, true
		}
	}
	return "", 0, false
}

func readStringAt(blob []byte, stringsOff, nameOff uint32) (string, bool) {
	start := int(stringsOff + nameOff)
	if start >= len(blob) {
		return "", false
	}
	for i := start; i < len(blob); i++ {
		if blob[i] == 0 {
			return string(blob[start:i]), true
		}
	}
	return "", false
}

func cString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
