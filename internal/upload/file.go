package upload

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/strrl/ctslice/internal/errs"
)

// ScanExtension is the only file type the service accepts.
const ScanExtension = ".nii"

// File is a scan chosen for upload.
type File struct {
	Name string
	Size int64
	open func() (io.ReadCloser, error)
}

// Open returns a fresh reader over the file contents
func (f File) Open() (io.ReadCloser, error) {
	if f.open == nil {
		return nil, fmt.Errorf("file %q has no content", f.Name)
	}
	return f.open()
}

// LocalFile describes a file on disk. Only its metadata is read here.
func LocalFile(path string) (File, error) {
	info, err := os.Stat(path)
	if err != nil {
		return File{}, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return File{}, fmt.Errorf("%s is a directory", path)
	}
	return File{
		Name: filepath.Base(path),
		Size: info.Size(),
		open: func() (io.ReadCloser, error) { return os.Open(path) },
	}, nil
}

// MemoryFile wraps in-memory contents.
func MemoryFile(name string, data []byte) File {
	return File{
		Name: name,
		Size: int64(len(data)),
		open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		},
	}
}

// CheckName rejects names that are not .nii scans.
func CheckName(name string) error {
	if !strings.HasSuffix(name, ScanExtension) || name == ScanExtension {
		return errs.NewUnsupportedFormatError(name)
	}
	return nil
}

func validate(f File) error {
	return CheckName(f.Name)
}
