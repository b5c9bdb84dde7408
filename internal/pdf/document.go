package pdf

import (
	"fmt"
	"os"
	"path/filepath"
)

// Document is an in-memory PDF byte-source. Name is used for reporting only.
type Document struct {
	Name string
	Data []byte
}

// Size returns the document size in bytes.
func (d Document) Size() int64 {
	return int64(len(d.Data))
}

// DocumentError describes a failure to read or validate a document.
type DocumentError struct {
	Name string
	Op   string
	Err  error
}

func (e *DocumentError) Error() string {
	return fmt.Sprintf("pdf %s: %s: %v", e.Op, e.Name, e.Err)
}

func (e *DocumentError) Unwrap() error {
	return e.Err
}

// LoadDocument reads a PDF file from disk, refusing files larger than maxSize.
func LoadDocument(path string, maxSize int64) (Document, error) {
	name := filepath.Base(path)

	fileInfo, err := os.Stat(path)
	if os.IsNotExist(err) {
		return Document{}, &DocumentError{Name: name, Op: "load", Err: fmt.Errorf("file does not exist")}
	}
	if err != nil {
		return Document{}, &DocumentError{Name: name, Op: "load", Err: fmt.Errorf("cannot access file: %w", err)}
	}
	if fileInfo.IsDir() {
		return Document{}, &DocumentError{Name: name, Op: "load", Err: fmt.Errorf("path is a directory")}
	}
	if maxSize > 0 && fileInfo.Size() > maxSize {
		return Document{}, &DocumentError{
			Name: name,
			Op:   "load",
			Err:  fmt.Errorf("file too large: %d bytes (max: %d bytes)", fileInfo.Size(), maxSize),
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Document{}, &DocumentError{Name: name, Op: "load", Err: err}
	}
	return Document{Name: name, Data: data}, nil
}
