package archive

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"
)

// ErrEmptyArchive is returned by Verify for a tarball without entries.
var ErrEmptyArchive = errors.New("archive has no entries")

// Verify reads the whole tarball back, checking the gzip stream and every tar
// header and body, and returns the entry names in archive order.
func Verify(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	zr, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("read gzip header: %w", err)
	}
	defer zr.Close()

	var names []string
	tr := tar.NewReader(zr)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return names, fmt.Errorf("read tar entry %d: %w", len(names)+1, err)
		}
		if _, err := io.Copy(io.Discard, tr); err != nil {
			return names, fmt.Errorf("read tar entry %s: %w", hdr.Name, err)
		}
		names = append(names, hdr.Name)
	}
	if len(names) == 0 {
		return nil, ErrEmptyArchive
	}
	return names, nil
}
