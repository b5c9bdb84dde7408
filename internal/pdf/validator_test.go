package pdf

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/a3tai/rat-autofill/internal/pdf/pdftest"
)

func TestIsPDFName(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"users.pdf", true},
		{"USERS.PDF", true},
		{"users.Pdf", true},
		{"users.txt", false},
		{"pdf", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsPDFName(tt.name))
		})
	}
}

func TestValidator_Validate(t *testing.T) {
	v := NewValidator(64)

	tests := []struct {
		name    string
		doc     Document
		wantErr string
	}{
		{name: "wrong extension", doc: Document{Name: "a.txt", Data: []byte("x")}, wantErr: "not a PDF"},
		{name: "empty", doc: Document{Name: "a.pdf"}, wantErr: "empty"},
		{name: "too large", doc: Document{Name: "a.pdf", Data: make([]byte, 65)}, wantErr: "too large"},
		{name: "garbage", doc: Document{Name: "a.pdf", Data: []byte("%PDF-1.4 garbage")}, wantErr: "invalid PDF"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pages, err := v.Validate(tt.doc)
			require.Error(t, err)
			assert.Zero(t, pages)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidator_Validate_WellFormed(t *testing.T) {
	data := pdftest.Table([]string{"No", "Username", "Password"}, []string{"1", "user1", "pass1"})

	pages, err := NewValidator(1024 * 1024).Validate(Document{Name: "Members.PDF", Data: data})
	require.NoError(t, err)
	assert.Equal(t, 1, pages)
}

func TestValidator_Validate_NotPDFSentinel(t *testing.T) {
	_, err := NewValidator(0).Validate(Document{Name: "notes.docx", Data: []byte("x")})
	assert.True(t, errors.Is(err, ErrNotPDF))
}

func TestLoadDocument(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "users.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4"), 0o600))

	doc, err := LoadDocument(path, 1024)
	require.NoError(t, err)
	assert.Equal(t, "users.pdf", doc.Name)
	assert.Equal(t, int64(8), doc.Size())

	_, err = LoadDocument(path, 4)
	assert.ErrorContains(t, err, "too large")

	_, err = LoadDocument(filepath.Join(dir, "missing.pdf"), 1024)
	assert.ErrorContains(t, err, "does not exist")

	_, err = LoadDocument(dir, 1024)
	assert.ErrorContains(t, err, "directory")
}
