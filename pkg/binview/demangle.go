package binview

import (
	"strings"
)

// Demangled holds the separated parts of an undecorated symbol name.
type Demangled struct {
	Name      string // Qualified name, e.g. "ns::Widget::Draw"
	Prototype string // e.g. "void __cdecl(int, char*)"
}

// DemangleFull undecorates MSVC C++ names, C names with a leading underscore
// and an optional @nn suffix, and __imp_ import thunks.
func DemangleFull(name string) Demangled {
	switch {
	case name == "":
		return Demangled{}
	case strings.HasPrefix(name, "__imp_"):
		inner := DemangleFull(name[len("__imp_"):])
		if inner.Name == "" {
			return Demangled{Name: name}
		}
		inner.Name += " [import]"
		return inner
	case name[0] == '?':
		d := &demangler{in: name, pos: 1}
		return d.symbol()
	case name[0] == '_':
		return Demangled{Name: undecorateC(name[1:])}
	}
	return Demangled{Name: name}
}

// Demangle returns the undecorated qualified name, or name itself when it
// cannot be undecorated.
func Demangle(name string) string {
	if d := DemangleFull(name); d.Name != "" {
		return d.Name
	}
	return name
}

// undecorateC strips a stdcall/fastcall "@nn" argument size.
func undecorateC(s string) string {
	at := strings.LastIndexByte(s, '@')
	if at <= 0 || at == len(s)-1 {
		return s
	}
	for _, c := range s[at+1:] {
		if c < '0' || c > '9' {
			return s
		}
	}
	return s[:at]
}

var operatorNames = map[byte]string{
	'2': "operator new", '3': "operator delete", '4': "operator=",
	'5': "operator>>", '6': "operator<<", '7': "operator!",
	'8': "operator==", '9': "operator!=", 'A': "operator[]",
	'B': "operator (cast)", 'C': "operator->", 'D': "operator*",
	'E': "operator++", 'F': "operator--", 'G': "operator-",
	'H': "operator+", 'I': "operator&", 'J': "operator->*",
	'K': "operator/", 'L': "operator%", 'M': "operator<",
	'N': "operator<=", 'O': "operator>", 'P': "operator>=",
	'Q': "operator,", 'R': "operator()", 'S': "operator~",
	'T': "operator^", 'U': "operator|", 'V': "operator&&",
	'W': "operator||", 'X': "operator*=", 'Y': "operator+=",
	'Z': "operator-=",
}

// Names following "?_".
var extendedOperatorNames = map[byte]string{
	'0': "operator/=", '1': "operator%=", '2': "operator>>=",
	'3': "operator<<=", '4': "operator&=", '5': "operator|=",
	'6': "operator^=", 'E': "dynamic initializer",
	'F': "dynamic atexit destructor",
}

var accessNames = map[byte]string{
	'A': "private:", 'B': "private:",
	'C': "private: static", 'D': "private: static",
	'E': "private: virtual", 'F': "private: virtual",
	'I': "protected:", 'J': "protected:",
	'K': "protected: static", 'L': "protected: static",
	'M': "protected: virtual", 'N': "protected: virtual",
	'Q': "public:", 'R': "public:",
	'S': "public: static", 'T': "public: static",
	'U': "public: virtual", 'V': "public: virtual",
}

var callingConventions = map[byte]string{
	'A': "__cdecl", 'B': "__cdecl __export",
	'C': "__pascal", 'D': "__pascal __export",
	'E': "__thiscall", 'F': "__thiscall __export",
	'G': "__stdcall", 'H': "__stdcall __export",
	'I': "__fastcall", 'J': "__fastcall __export",
	'K': "", 'L': "",
	'M': "__clrcall", 'Q': "__vectorcall",
}

var primitiveTypes = map[byte]string{
	'X': "void", 'C': "signed char", 'D': "char", 'E': "unsigned char",
	'F': "short", 'G': "unsigned short", 'H': "int", 'I': "unsigned int",
	'J': "long", 'K': "unsigned long", 'M': "float", 'N': "double",
	'O': "long double", 'Z': "...",
}

// Types following "_".
var extendedTypes = map[byte]string{
	'J': "__int64", 'K': "unsigned __int64", 'N': "bool",
	'W': "wchar_t", 'S': "char16_t", 'U': "char32_t",
}

// maxArgs bounds argument lists of malformed names.
const maxArgs = 32

type demangler struct {
	in    string
	pos   int
	names []string // Back-reference table
}

func (d *demangler) done() bool { return d.pos >= len(d.in) }

func (d *demangler) peek() byte {
	if d.done() {
		return 0
	}
	return d.in[d.pos]
}

func (d *demangler) next() byte {
	c := d.peek()
	if !d.done() {
		d.pos++
	}
	return c
}

func (d *demangler) symbol() Demangled {
	name := d.qualifiedName()
	if name == "" {
		return Demangled{}
	}
	return Demangled{Name: name, Prototype: d.encoding()}
}

// qualifiedName reads segments up to "@@". Segments are stored innermost
// first.
func (d *demangler) qualifiedName() string {
	var parts []string
	for !d.done() {
		switch c := d.peek(); {
		case c == '@':
			d.pos++
			if d.peek() == '@' {
				d.pos++
				return joinReversed(parts)
			}
		case c >= '0' && c <= '9':
			d.pos++
			if i := int(c - '0'); i < len(d.names) {
				parts = append(parts, d.names[i])
			}
		case c == '?':
			d.pos++
			if s := d.specialName(); s != "" {
				parts = append(parts, s)
			}
		default:
			if s := d.segment(); s != "" {
				d.names = append(d.names, s)
				parts = append(parts, s)
			}
		}
	}
	return joinReversed(parts)
}

func joinReversed(parts []string) string {
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, "::")
}

func (d *demangler) segment() string {
	start := d.pos
	for !d.done() && d.in[d.pos] != '@' && d.in[d.pos] != '?' {
		d.pos++
	}
	return d.in[start:d.pos]
}

func (d *demangler) specialName() string {
	c := d.next()
	switch c {
	case '0':
		return d.segment()
	case '1':
		return "~" + d.segment()
	case '_':
		c2 := d.next()
		if c2 == 'K' {
			return `operator "" ` + d.segment()
		}
		return extendedOperatorNames[c2]
	}
	return operatorNames[c]
}

// encoding decodes the storage following the name. Only functions carry a
// prototype; variables yield "".
func (d *demangler) encoding() string {
	c := d.next()
	if c == 'Y' || c == 'Z' {
		return d.function("")
	}
	access, ok := accessNames[c]
	if !ok {
		return ""
	}
	if !strings.HasSuffix(access, "static") {
		// __ptr64 and the cv-qualifier of this.
		if d.peek() == 'E' {
			d.pos++
		}
		if c := d.peek(); c >= 'A' && c <= 'D' {
			d.pos++
		}
	}
	return d.function(access)
}

func (d *demangler) function(access string) string {
	if d.done() {
		return access
	}
	conv := d.callingConvention()
	ret := d.typ()
	args := d.arguments()

	var b strings.Builder
	b.WriteString(ret)
	if conv != "" {
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(conv)
	}
	if args != "" {
		b.WriteString("(" + args + ")")
	}
	if access != "" {
		return access + " " + b.String()
	}
	return b.String()
}

func (d *demangler) callingConvention() string {
	if cc, ok := callingConventions[d.peek()]; ok {
		d.pos++
		return cc
	}
	return ""
}

func (d *demangler) typ() string {
	c := d.peek()
	if d.done() || c == '@' {
		return ""
	}
	d.pos++
	if s, ok := primitiveTypes[c]; ok {
		return s
	}
	switch c {
	case '_':
		return extendedTypes[d.next()]
	case 'P':
		return d.pointee() + "*"
	case 'Q':
		return d.pointee() + "* const"
	case 'A':
		return d.pointee() + "&"
	case 'B':
		return d.pointee() + "& volatile"
	case 'T', 'U', 'V':
		return d.className()
	}
	d.pos--
	return ""
}

// pointee skips __ptr64 and reads the cv-qualified target type.
func (d *demangler) pointee() string {
	if d.peek() == 'E' {
		d.pos++
	}
	var cv string
	switch d.peek() {
	case 'A':
	case 'B':
		cv = "const "
	case 'C':
		cv = "volatile "
	case 'D':
		cv = "const volatile "
	default:
		return d.typ()
	}
	d.pos++
	return cv + d.typ()
}

// className reads an "inner@outer@@" class, struct or union name.
func (d *demangler) className() string {
	end := strings.Index(d.in[d.pos:], "@@")
	if end < 0 {
		name := d.in[d.pos:]
		d.pos = len(d.in)
		return name
	}
	parts := strings.Split(d.in[d.pos:d.pos+end], "@")
	d.pos += end + 2
	return joinReversed(parts)
}

func (d *demangler) arguments() string {
	var args []string
	for !d.done() && len(args) < maxArgs {
		if c := d.peek(); c == '@' || c == 'Z' {
			d.pos++
			break
		}
		arg := d.typ()
		if arg == "" {
			break
		}
		args = append(args, arg)
	}
	return strings.Join(args, ", ")
}
