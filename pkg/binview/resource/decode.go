package resource

import (
	"unicode/utf8"

	"github.com/pkg/errors"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
)

// Code pages with special handling
const (
	CodePageDefault = 0
	CodePageUTF16LE = 1200
	CodePageUTF8    = 65001
)

// ErrCodePage is returned by Decode for a code page it cannot convert.
var ErrCodePage = errors.New("unsupported code page")

var codePages = map[uint32]encoding.Encoding{
	437:   charmap.CodePage437,
	850:   charmap.CodePage850,
	852:   charmap.CodePage852,
	855:   charmap.CodePage855,
	858:   charmap.CodePage858,
	860:   charmap.CodePage860,
	862:   charmap.CodePage862,
	863:   charmap.CodePage863,
	865:   charmap.CodePage865,
	866:   charmap.CodePage866,
	874:   charmap.Windows874,
	1250:  charmap.Windows1250,
	1251:  charmap.Windows1251,
	1252:  charmap.Windows1252,
	1253:  charmap.Windows1253,
	1254:  charmap.Windows1254,
	1255:  charmap.Windows1255,
	1256:  charmap.Windows1256,
	1257:  charmap.Windows1257,
	1258:  charmap.Windows1258,
	10000: charmap.Macintosh,
	20866: charmap.KOI8R,
	21866: charmap.KOI8U,
	28591: charmap.ISO8859_1,
	28592: charmap.ISO8859_2,
	28595: charmap.ISO8859_5,
	28597: charmap.ISO8859_7,
	28605: charmap.ISO8859_15,
}

// Decode converts text payload b to UTF-8 according to the entry's code
// page. Code page 0 is treated as UTF-16LE, the encoding resource
// compilers use for string tables, manifests aside.
func (d DataEntry) Decode(b []byte) (string, error) {
	switch d.CodePage {
	case CodePageDefault, CodePageUTF16LE:
		s, err := utf16le.NewDecoder().Bytes(b[:len(b)&^1])
		if err != nil {
			return "", errors.Wrap(err, "failed to decode UTF-16 resource")
		}
		return string(s), nil
	case CodePageUTF8:
		if !utf8.Valid(b) {
			return "", errors.New("resource is not valid UTF-8")
		}
		return string(b), nil
	}
	enc, ok := codePages[d.CodePage]
	if !ok {
		return "", errors.Wrapf(ErrCodePage, "code page %d", d.CodePage)
	}
	s, err := enc.NewDecoder().Bytes(b)
	if err != nil {
		return "", errors.Wrapf(err, "failed to decode code page %d", d.CodePage)
	}
	return string(s), nil
}
