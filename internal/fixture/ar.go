// Package fixture builds small synthetic archives, COFF objects and PE images
// for tests.
package fixture

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/lunixbochs/struc"
)

var little = &struc.Options{Order: binary.LittleEndian}

type arHeader struct {
	Name [16]byte `struc:"[16]byte"`
	Date [12]byte `struc:"[12]byte"`
	UID  [6]byte  `struc:"[6]byte"`
	GID  [6]byte  `struc:"[6]byte"`
	Mode [8]byte  `struc:"[8]byte"`
	Size [10]byte `struc:"[10]byte"`
	Fmag [2]byte  `struc:"[2]byte"`
}

func pad(dst []byte, s string) {
	for i := range dst {
		dst[i] = ' '
	}
	copy(dst, s)
}

func writeArHeader(buf *bytes.Buffer, name string, size int) {
	var h arHeader
	pad(h.Name[:], name)
	pad(h.Date[:], "0")
	pad(h.UID[:], "0")
	pad(h.GID[:], "0")
	pad(h.Mode[:], "644")
	pad(h.Size[:], fmt.Sprint(size))
	h.Fmag = [2]byte{'`', '\n'}
	if err := struc.PackWithOptions(buf, &h, little); err != nil {
		panic(err)
	}
}

func writeArMember(buf *bytes.Buffer, name string, data []byte) {
	writeArHeader(buf, name, len(data))
	buf.Write(data)
	if len(data)%2 == 1 {
		buf.WriteByte('\n')
	}
}

// Member describes one archive member.
type Member struct {
	Name    string
	Data    []byte
	Symbols []string // Names listed for this member in the symbol table
}

func memberSize(n int) int {
	return 60 + n + n%2
}

// Archive builds a GNU-style archive. Names longer than 15 bytes go to the
// `//` table; a System V symbol table is emitted when any member lists
// symbols.
func Archive(members []Member) []byte {
	var strtab bytes.Buffer
	ids := make([]string, len(members))
	for i, m := range members {
		if len(m.Name) > 15 {
			ids[i] = fmt.Sprintf("/%d", strtab.Len())
			strtab.WriteString(m.Name + "/\n")
		} else {
			ids[i] = m.Name + "/"
		}
	}

	var nsyms, namesLen int
	for _, m := range members {
		for _, s := range m.Symbols {
			nsyms++
			namesLen += len(s) + 1
		}
	}

	off := 8
	symtabSize := 0
	if nsyms > 0 {
		symtabSize = 4 + 4*nsyms + namesLen
		off += memberSize(symtabSize)
	}
	if strtab.Len() > 0 {
		off += memberSize(strtab.Len())
	}
	offsets := make([]int, len(members))
	for i, m := range members {
		offsets[i] = off
		off += memberSize(len(m.Data))
	}

	var buf bytes.Buffer
	buf.WriteString("!<arch>\n")
	if nsyms > 0 {
		var sym bytes.Buffer
		binary.Write(&sym, binary.BigEndian, uint32(nsyms))
		for i, m := range members {
			for range m.Symbols {
				binary.Write(&sym, binary.BigEndian, uint32(offsets[i]))
			}
		}
		for _, m := range members {
			for _, s := range m.Symbols {
				sym.WriteString(s)
				sym.WriteByte(0)
			}
		}
		writeArMember(&buf, "/", sym.Bytes())
	}
	if strtab.Len() > 0 {
		writeArMember(&buf, "//", strtab.Bytes())
	}
	for i, m := range members {
		writeArMember(&buf, ids[i], m.Data)
	}
	return buf.Bytes()
}
