// Package mmfile maps files read-only into memory.
package mmfile

import (
	"os"

	"github.com/pkg/errors"
)

// Map returns the contents of the file at path and a function that
// releases them. The returned bytes must not be modified and are invalid
// after unmap is called.
func Map(path string) (data []byte, unmap func() error, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, nil, err
	}
	size := st.Size()
	if size == 0 {
		return nil, func() error { return nil }, nil
	}
	if int64(int(size)) != size {
		return nil, nil, errors.Errorf("%s: too large to map", path)
	}
	return mapFile(f, int(size))
}
