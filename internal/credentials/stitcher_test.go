package credentials

import (
	"bytes"
	"errors"
	"log"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/a3tai/rat-autofill/internal/pdf"
	"github.com/a3tai/rat-autofill/internal/pdf/pdftest"
)

type fakeReader struct {
	regions map[string][]pdf.Region
	errs    map[string]error
}

func (f fakeReader) Regions(doc pdf.Document) ([]pdf.Region, error) {
	if err := f.errs[doc.Name]; err != nil {
		return nil, err
	}
	return f.regions[doc.Name], nil
}

func quietStitcher(r RegionReader) *Stitcher {
	return NewStitcher(r, log.New(&bytes.Buffer{}, "", 0))
}

func TestStitch_ContinuationAcrossPages(t *testing.T) {
	fragments := []Fragment{
		{Page: 1, Rows: [][]string{{"Username", "Password"}, {"user1", "pass1"}}},
		{Page: 2, Rows: [][]string{{"user2", "pass2"}}},
	}

	assert.Equal(t, []Record{
		{Username: "user1", Password: "pass1"},
		{Username: "user2", Password: "pass2"},
	}, Stitch(fragments))
}

func TestStitch_HeaderColumnsAnywhere(t *testing.T) {
	fragments := []Fragment{
		{Page: 1, Rows: [][]string{
			{"No", " PASSWORD ", "Nama", "User Name / Username"},
			{"1", "pw-a", "Ani", "ani01"},
		}},
		{Page: 2, Rows: [][]string{{"2", "pw-b", "Budi", "budi02"}}},
	}

	assert.Equal(t, []Record{
		{Username: "ani01", Password: "pw-a"},
		{Username: "budi02", Password: "pw-b"},
	}, Stitch(fragments))
}

func TestStitch_NewHeaderRebinds(t *testing.T) {
	fragments := []Fragment{
		{Page: 1, Rows: [][]string{{"Username", "Password"}, {"first", "p1"}}},
		{Page: 2, Rows: [][]string{{"Password", "Username"}, {"p2", "second"}}},
		{Page: 3, Rows: [][]string{{"p3", "third"}}},
	}

	assert.Equal(t, []Record{
		{Username: "first", Password: "p1"},
		{Username: "second", Password: "p2"},
		{Username: "third", Password: "p3"},
	}, Stitch(fragments))
}

func TestStitch_RowFilters(t *testing.T) {
	fragments := []Fragment{{Page: 1, Rows: [][]string{
		{"Username", "Password"},
		{"  ", "pass"},
		{"user", ""},
		{"12", "pass"},
		{"abc", "pass"},
		{"Username ", "Password"},
		{"short"},
		{" spaced ", " pw "},
	}}}

	assert.Equal(t, []Record{
		{Username: "abc", Password: "pass"},
		{Username: "spaced", Password: "pw"},
	}, Stitch(fragments))
}

func TestStitch_UnusableFragmentsSkipped(t *testing.T) {
	fragments := []Fragment{
		{Page: 1, Rows: [][]string{{"user0", "pass0"}}},
		{Page: 1, Rows: nil},
		{Page: 1, Rows: [][]string{{"Username", "Nama"}, {"user1", "x"}}},
	}
	assert.Empty(t, Stitch(fragments))
}

func TestStitcher_Extract_ReadFailure(t *testing.T) {
	var logs bytes.Buffer
	s := NewStitcher(fakeReader{errs: map[string]error{"bad.pdf": errors.New("boom")}}, log.New(&logs, "", 0))

	assert.Empty(t, s.Extract(pdf.Document{Name: "bad.pdf"}))
	assert.Contains(t, logs.String(), "bad.pdf")
}

func TestStitcher_ExtractAll_BindingDoesNotCrossDocuments(t *testing.T) {
	reader := fakeReader{regions: map[string][]pdf.Region{
		"a.pdf": {{Page: 1, Rows: [][]string{{"Username", "Password"}, {"alpha", "pa"}}}},
		"b.pdf": {{Page: 1, Rows: [][]string{{"beta", "pb"}}}},
		"c.pdf": {{Page: 1, Rows: [][]string{{"Password", "Username"}, {"pc", "gamma"}}}},
	}}
	s := quietStitcher(reader)

	a := s.Extract(pdf.Document{Name: "a.pdf"})
	c := s.Extract(pdf.Document{Name: "c.pdf"})
	all := s.ExtractAll([]pdf.Document{{Name: "a.pdf"}, {Name: "b.pdf"}, {Name: "c.pdf"}})

	assert.Equal(t, append(append([]Record{}, a...), c...), all)
	assert.Equal(t, []Record{
		{Username: "alpha", Password: "pa"},
		{Username: "gamma", Password: "pc"},
	}, all)
}

func TestStitcher_ExtractAll_Empty(t *testing.T) {
	s := quietStitcher(fakeReader{})
	assert.Empty(t, s.ExtractAll(nil))
}

func TestStitcher_Extract_RenderedTwoPageDocument(t *testing.T) {
	tests := []struct {
		name  string
		align pdftest.Align
	}{
		{name: "left aligned", align: pdftest.Left},
		{name: "centred", align: pdftest.Center},
		{name: "right aligned", align: pdftest.Right},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := pdftest.AlignedPages(tt.align,
				[][]string{
					{"No", "Username", "Password"},
					{"1", "user1", "pass1"},
				},
				[][]string{
					{"2", "user2", "pass2"},
				},
			)

			records := quietStitcher(pdf.NewTableReader()).Extract(pdf.Document{Name: "members.pdf", Data: data})
			assert.Equal(t, []Record{
				{Username: "user1", Password: "pass1"},
				{Username: "user2", Password: "pass2"},
			}, records)
		})
	}
}

func TestStitcher_Extract_ContinuationWithoutNumberColumn(t *testing.T) {
	data := pdftest.Pages(
		[][]string{
			{"No", "Username", "Password"},
			{"1", "user1", "pass1"},
		},
		[][]string{
			{"", "user2", "pass2"},
			{"", "user3", "pass3"},
		},
	)

	records := quietStitcher(pdf.NewTableReader()).Extract(pdf.Document{Name: "members.pdf", Data: data})
	assert.Equal(t, []Record{
		{Username: "user1", Password: "pass1"},
		{Username: "user2", Password: "pass2"},
		{Username: "user3", Password: "pass3"},
	}, records)
}
