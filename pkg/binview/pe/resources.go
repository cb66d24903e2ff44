package pe

import (
	"github.com/pkg/errors"

	"github.com/jtang613/gobinview/pkg/binview/resource"
)

// Resources returns a cursor at the root of the resource tree. The tree
// spans from the directory's RVA to the end of its section, since some
// linkers record a directory size that excludes the payloads.
func (img *Image) Resources() (resource.Cursor, error) {
	d, ok := img.Directory(DirResource)
	if !ok {
		return resource.Cursor{}, errors.Wrap(ErrNoDirectory, DirectoryName(DirResource))
	}
	n := d.Size
	if i, ok := img.RVAToSection(d.VirtualAddress); ok {
		s := &img.sections[i]
		limit := s.VirtualExtent()
		if img.layout == LayoutFile {
			limit = rawBacked(s)
		}
		if end := s.VirtualAddress + limit; end > d.VirtualAddress {
			n = max(n, end-d.VirtualAddress)
		}
	}
	b, ok := img.RVAToPtr(d.VirtualAddress, n)
	if !ok {
		if b, ok = img.RVAToPtr(d.VirtualAddress, d.Size); !ok {
			return resource.Cursor{}, errors.Wrapf(ErrMalformed, "resource directory at %#x outside image", d.VirtualAddress)
		}
	}
	return resource.New(b), nil
}

// ResourceData returns the payload a resource data entry refers to.
func (img *Image) ResourceData(d resource.DataEntry) ([]byte, bool) {
	return img.RVAToPtr(d.OffsetToData, d.Size)
}
