/*
 * rvvm - fdt: flattened device tree node tree and serializer
 *
 * Copyright 2024, Richard Cornwell
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in
 * all copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 */

// Package fdt builds and serializes a flattened device tree (the binary
// blob a RISC-V guest's firmware/kernel reads to learn its memory map,
// CPU topology and boot arguments), per spec.md §3/§6. The node tree
// mirrors the shape spec.md names directly (name, parent back-reference,
// ordered children, ordered name+payload properties, a phandle counter
// held only by the root); the wire encoding follows the devicetree-spec
// flattened format used by every RISC-V boot loader.
package fdt

// Property is a name and raw byte payload attached to a Node.
type Property struct {
	Name  string
	Value []byte
}

// Node is one device-tree node. The phandle counter lives only on the
// root node (spec.md §3: "allocated phandle counter (root node only)");
// non-root nodes look it up through parent.
type Node struct {
	Name     string
	parent   *Node
	children []*Node
	props    []Property

	nextPhandle uint32 // valid only when parent == nil
}

// NewRoot creates the tree root. name is normally "" (the devicetree
// spec's unit-name-less root).
func NewRoot(name string) *Node {
	return &Node{Name: name}
}

// AddChild appends and returns a new child node.
func (n *Node) AddChild(name string) *Node {
	c := &Node{Name: name, parent: n}
	n.children = append(n.children, c)
	return c
}

// AddProp appends a raw-bytes property.
func (n *Node) AddProp(name string, value []byte) {
	n.props = append(n.props, Property{Name: name, Value: value})
}

// AddPropEmpty appends a zero-length marker property (e.g. "ranges",
// "interrupt-controller").
func (n *Node) AddPropEmpty(name string) { n.AddProp(name, nil) }

// AddPropString appends a single NUL-terminated string property.
func (n *Node) AddPropString(name, value string) {
	n.AddProp(name, append([]byte(value), 0))
}

// AddPropStringList appends a property holding multiple NUL-terminated
// strings back to back (the devicetree "stringlist" encoding).
func (n *Node) AddPropStringList(name string, values []string) {
	var buf []byte
	for _, v := range values {
		buf = append(buf, v...)
		buf = append(buf, 0)
	}
	n.AddProp(name, buf)
}

// AddPropU32 appends a single big-endian 32-bit cell.
func (n *Node) AddPropU32(name string, v uint32) {
	n.AddProp(name, beU32(v))
}

// AddPropU64 appends a single big-endian 64-bit value, encoded as two
// cells (the devicetree convention for #address-cells/#size-cells == 2).
func (n *Node) AddPropU64(name string, v uint64) {
	n.AddProp(name, beU64(v))
}

// AddPropCells appends a property built from an arbitrary list of
// 32-bit cells, the devicetree encoding for "reg" and
// "interrupts-extended" when address/size-cells exceed 1.
func (n *Node) AddPropCells(name string, cells []uint32) {
	buf := make([]byte, 0, 4*len(cells))
	for _, c := range cells {
		buf = append(buf, beU32(c)...)
	}
	n.AddProp(name, buf)
}

// AllocPhandle assigns the node the next phandle value from the tree's
// root counter, adds it as a "phandle" property, and returns it so a
// sibling node can reference it (e.g. a PLIC's "interrupt-parent").
func (n *Node) AllocPhandle() uint32 {
	root := n
	for root.parent != nil {
		root = root.parent
	}
	root.nextPhandle++
	p := root.nextPhandle
	n.AddPropU32("phandle", p)
	return p
}

func beU32(v uint32) []byte {
	return []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
}

func beU64(v uint64) []byte {
	b := beU32(uint32(v >> 32))
	return append(b, beU32(uint32(v))...)
}
