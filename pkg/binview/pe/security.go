package pe

import (
	"github.com/pkg/errors"

	"github.com/jtang613/gobinview/pkg/binview/region"
)

// Certificate revisions and types
const (
	CertRevision1       = 0x0100
	CertRevision2       = 0x0200
	CertTypeX509        = 0x0001
	CertTypePKCSSigned  = 0x0002
	CertTypeTSStackSign = 0x0004
)

// certificateHeaderSize is the size of the WIN_CERTIFICATE header.
const certificateHeaderSize = 8

// Certificate is one WIN_CERTIFICATE entry of the security directory.
type Certificate struct {
	Length          uint32
	Revision        uint16
	CertificateType uint16
	Data            []byte // PKCS#7 SignedData for CertTypePKCSSigned
}

// Certificates decodes the attribute certificate table. The security
// directory is addressed by file offset and is never mapped by the loader,
// so mapped images report ErrNoDirectory.
func (img *Image) Certificates() ([]Certificate, error) {
	if img.layout == LayoutMapped {
		return nil, errors.Wrap(ErrNoDirectory, "security directory is not mapped")
	}
	b, _, err := img.directory(DirSecurity)
	if err != nil {
		return nil, err
	}
	var out []Certificate
	c := region.NewCursor(b)
	for c.Remaining() >= certificateHeaderSize {
		start := c
		var cert Certificate
		cert.Length, _ = c.Uint32LE()
		cert.Revision, _ = c.Uint16LE()
		cert.CertificateType, _ = c.Uint16LE()
		if cert.Length < certificateHeaderSize {
			return out, errors.Wrapf(ErrMalformed, "certificate length %d", cert.Length)
		}
		var ok bool
		if cert.Data, ok = c.Bytes(int(cert.Length - certificateHeaderSize)); !ok {
			return out, errors.Wrapf(ErrMalformed, "certificate of %d bytes overruns directory", cert.Length)
		}
		out = append(out, cert)
		next, err := start.AdvanceBy(region.AlignUp(uint64(cert.Length), 8))
		if err != nil {
			break
		}
		c = next
	}
	return out, nil
}
