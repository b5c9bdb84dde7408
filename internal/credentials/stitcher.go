// Package credentials reconstructs the Username/Password table of scanned
// member lists. The table can be split across pages and across several
// physical tables; header-less continuation fragments reuse the column
// binding established by the last header seen in the same document.
package credentials

import (
	"errors"
	"log"
	"strings"
	"unicode/utf8"

	"github.com/a3tai/rat-autofill/internal/pdf"
)

const (
	usernameHeader = "username"
	passwordHeader = "password"

	// rows whose username is this short are row numbers misread as names
	minUsernameLength = 3
)

// ErrNoRecords reports that a batch yielded no usable credentials.
var ErrNoRecords = errors.New("no user data found in the uploaded documents")

// Record is one extracted username/password pair.
type Record struct {
	Username string `json:"username"`
	Password string `json:"-"`
}

// Fragment is one tabular region of one page.
type Fragment = pdf.Region

// ColumnBinding holds the column positions of the username and password
// cells. It lives for a single document.
type ColumnBinding struct {
	Username int
	Password int
}

// RegionReader yields the tabular regions of a document in page order.
type RegionReader interface {
	Regions(doc pdf.Document) ([]pdf.Region, error)
}

// Stitcher turns documents into ordered credential records.
type Stitcher struct {
	reader RegionReader
	logger *log.Logger
}

// NewStitcher creates a stitcher over reader. A nil logger uses log.Default().
func NewStitcher(reader RegionReader, logger *log.Logger) *Stitcher {
	if logger == nil {
		logger = log.Default()
	}
	return &Stitcher{reader: reader, logger: logger}
}

// Extract returns the credential records of doc in source order. It never
// fails: an unreadable document is logged and yields no records.
func (s *Stitcher) Extract(doc pdf.Document) []Record {
	fragments, err := s.reader.Regions(doc)
	if err != nil {
		s.logger.Printf("[ERROR] failed to read %s: %v", doc.Name, err)
		return nil
	}

	records := Stitch(fragments)
	s.logger.Printf("[INFO] %s: %d table(s), %d user(s) extracted", doc.Name, len(fragments), len(records))
	return records
}

// ExtractAll extracts every document independently and concatenates the
// results in document order.
func (s *Stitcher) ExtractAll(docs []pdf.Document) []Record {
	var all []Record
	for _, doc := range docs {
		all = append(all, s.Extract(doc)...)
	}
	return all
}

// Stitch reconciles the fragments of a single document.
func Stitch(fragments []Fragment) []Record {
	var records []Record
	var binding *ColumnBinding

	for _, fragment := range fragments {
		if len(fragment.Rows) == 0 {
			continue
		}

		start := 0
		if header, ok := findHeader(fragment.Rows[0]); ok {
			binding = &header
			start = 1
		} else if binding == nil {
			continue
		}

		for _, row := range fragment.Rows[start:] {
			if rec, ok := readRow(row, *binding); ok {
				records = append(records, rec)
			}
		}
	}
	return records
}

// findHeader looks for username and password header cells in row. Both must
// be present for the row to count as a header.
func findHeader(row []string) (ColumnBinding, bool) {
	username, password := -1, -1
	for idx, cell := range row {
		text := normalize(cell)
		switch {
		case text == "":
		case strings.Contains(text, usernameHeader):
			username = idx
		case strings.Contains(text, passwordHeader):
			password = idx
		}
	}
	if username < 0 || password < 0 {
		return ColumnBinding{}, false
	}
	return ColumnBinding{Username: username, Password: password}, true
}

func readRow(row []string, b ColumnBinding) (Record, bool) {
	if len(row) <= max(b.Username, b.Password) {
		return Record{}, false
	}

	username := strings.TrimSpace(row[b.Username])
	password := strings.TrimSpace(row[b.Password])
	if username == "" || password == "" {
		return Record{}, false
	}

	// repeated header the header scan did not recognise
	if strings.Contains(strings.ToLower(username), usernameHeader) ||
		strings.Contains(strings.ToLower(password), passwordHeader) {
		return Record{}, false
	}

	if utf8.RuneCountInString(username) < minUsernameLength {
		return Record{}, false
	}
	return Record{Username: username, Password: password}, true
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
