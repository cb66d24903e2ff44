package fixture

import (
	"bytes"
	"encoding/binary"

	"golang.org/x/text/encoding/unicode"
)

// ResourceID names a resource tree entry by string or by number.
type ResourceID struct {
	Name string
	ID   uint32
}

// ResourceLeaf is one (type, name, language) resource.
type ResourceLeaf struct {
	Type, Name, Lang ResourceID
	Data             []byte
	CodePage         uint32
}

type resNode struct {
	id       ResourceID
	children []*resNode
	leaf     *ResourceLeaf
	off      uint32
}

func (n *resNode) child(id ResourceID) *resNode {
	for _, c := range n.children {
		if c.id == id {
			return c
		}
	}
	c := &resNode{id: id}
	n.children = append(n.children, c)
	return c
}

// sorted returns the children with named entries first, each group in
// insertion order.
func (n *resNode) sorted() []*resNode {
	var named, ids []*resNode
	for _, c := range n.children {
		if c.id.Name != "" {
			named = append(named, c)
		} else {
			ids = append(ids, c)
		}
	}
	return append(named, ids...)
}

var utf16le = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// ResourceTree lays out a three-level resource tree whose first byte will
// be placed at rva. Directories come first in breadth-first order, then
// names, data entries and payloads.
func ResourceTree(rva uint32, leaves []ResourceLeaf) []byte {
	root := &resNode{}
	for i := range leaves {
		l := &leaves[i]
		root.child(l.Type).child(l.Name).child(l.Lang).leaf = l
	}

	var dirs, data []*resNode
	var off uint32
	queue := []*resNode{root}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		if n.leaf != nil {
			data = append(data, n)
			continue
		}
		n.off = off
		dirs = append(dirs, n)
		off += 16 + 8*uint32(len(n.children))
		queue = append(queue, n.sorted()...)
	}

	strOff := off
	names := map[string]uint32{}
	var strs bytes.Buffer
	for _, d := range dirs {
		for _, c := range d.sorted() {
			if c.id.Name == "" {
				continue
			}
			if _, ok := names[c.id.Name]; ok {
				continue
			}
			names[c.id.Name] = strOff + uint32(strs.Len())
			enc, _ := utf16le.NewEncoder().String(c.id.Name)
			binary.Write(&strs, binary.LittleEndian, uint16(len(enc)/2))
			strs.WriteString(enc)
		}
	}
	off = alignTo(strOff+uint32(strs.Len()), 4)
	for _, n := range data {
		n.off = off
		off += 16
	}
	payload := make([]uint32, len(data))
	for i, n := range data {
		off = alignTo(off, 8)
		payload[i] = off
		off += uint32(len(n.leaf.Data))
	}

	out := make([]byte, off)
	for _, d := range dirs {
		kids := d.sorted()
		var named uint16
		for _, c := range kids {
			if c.id.Name != "" {
				named++
			}
		}
		binary.LittleEndian.PutUint16(out[d.off+12:], named)
		binary.LittleEndian.PutUint16(out[d.off+14:], uint16(len(kids))-named)
		for i, c := range kids {
			e := d.off + 16 + 8*uint32(i)
			name := c.id.ID
			if c.id.Name != "" {
				name = 0x80000000 | names[c.id.Name]
			}
			target := c.off
			if c.leaf == nil {
				target |= 0x80000000
			}
			binary.LittleEndian.PutUint32(out[e:], name)
			binary.LittleEndian.PutUint32(out[e+4:], target)
		}
	}
	copy(out[strOff:], strs.Bytes())
	for i, n := range data {
		binary.LittleEndian.PutUint32(out[n.off:], rva+payload[i])
		binary.LittleEndian.PutUint32(out[n.off+4:], uint32(len(n.leaf.Data)))
		binary.LittleEndian.PutUint32(out[n.off+8:], n.leaf.CodePage)
		copy(out[payload[i]:], n.leaf.Data)
	}
	return out
}
