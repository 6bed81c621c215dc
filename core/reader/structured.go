package reader

import (
	"io"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/bridgeway/qualify/core/domain"
	"github.com/bridgeway/qualify/pkg/apperr"
)

// controlChars matches low-order control characters (0x00-0x1F except tab,
// LF, CR) that structured-record dumps are known to carry and that must be
// stripped before parsing.
var controlChars = regexp.MustCompile("[\x00-\x08\x0B\x0C\x0E-\x1F]")

// recordElementNames is the fixed vocabulary of element names that mark one
// structured record, tried in order against any namespace prefix.
var recordElementNames = []string{"record", "entry", "row", "item"}

// fieldElementNames maps a known element's local name (namespace-stripped)
// to the Metadata field it populates.
var fieldElementNames = map[string]string{
	"email":             "address",
	"address":           "address",
	"url":               "source_url",
	"source_url":        "source_url",
	"title":             "page_title",
	"page_title":        "page_title",
	"company":           "company_name",
	"company_name":      "company_name",
	"phone":             "phone",
	"country":           "country",
	"city":              "city",
	"address_line":      "address_line",
	"meta_description":  "meta_description",
	"description":       "meta_description",
	"meta_keywords":     "meta_keywords",
	"keywords":          "meta_keywords",
	"category":          "category",
	"validation_status": "validation_status",
	"validation_log":    "validation_log",
	"validation_date":   "validation_date",
}

// StructuredReader parses XML-like structured-record dumps ("LVP" files)
// using goquery's lenient HTML-mode parser, which tolerates namespace
// drift, unclosed tags, and the control-character noise these exports are
// known to carry.
type StructuredReader struct {
	path    string
	records []*goquery.Selection
	idx     int
}

// NewStructuredReader reads the full document (structured dumps are
// expected to fit comfortably in memory; the lazy-sequence contract is
// preserved at the Record level via Next) and locates every record element.
func NewStructuredReader(path string, r io.Reader) (*StructuredReader, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, apperr.ReadError(path, 0, err)
	}

	cleaned := controlChars.ReplaceAll(raw, nil)

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(cleaned)))
	if err != nil {
		return nil, apperr.ReadError(path, 0, err)
	}

	wanted := make(map[string]bool, len(recordElementNames))
	for _, name := range recordElementNames {
		wanted[name] = true
	}

	var records []*goquery.Selection
	doc.Find("*").Each(func(_ int, s *goquery.Selection) {
		if wanted[stripNamespace(strings.ToLower(goquery.NodeName(s)))] {
			records = append(records, s)
		}
	})

	return &StructuredReader{path: path, records: records}, nil
}

// Next returns the next Record. A record lacking an address, or whose
// address later fails normalization, is still emitted (not dropped) so the
// pipeline can account for it as invalid.
func (r *StructuredReader) Next() (*domain.Record, error) {
	if r.idx >= len(r.records) {
		return nil, io.EOF
	}
	sel := r.records[r.idx]
	row := r.idx + 1
	r.idx++

	meta := &domain.Metadata{Extra: make(map[string]string)}
	rec := &domain.Record{SourceFile: r.path, SourceRow: row}

	sel.Children().Each(func(_ int, field *goquery.Selection) {
		tag := strings.ToLower(goquery.NodeName(field))
		tag = stripNamespace(tag)
		value := strings.TrimSpace(field.Text())
		if value == "" {
			return
		}

		known, ok := fieldElementNames[tag]
		if !ok {
			meta.Extra[tag] = value
			return
		}

		switch known {
		case "address":
			rec.RawAddress = value
		case "source_url":
			meta.SourceURL = value
		case "page_title":
			meta.PageTitle = value
		case "company_name":
			meta.CompanyName = value
		case "phone":
			meta.Phone = value
		case "country":
			meta.Country = value
		case "city":
			meta.City = value
		case "address_line":
			meta.AddressLine = value
		case "meta_description":
			meta.MetaDescription = value
		case "meta_keywords":
			meta.MetaKeywords = value
		case "category":
			meta.Category = value
		case "validation_status":
			meta.ValidationStatus = value
		case "validation_log":
			meta.ValidationLog = value
		case "validation_date":
			meta.ValidationDate = value
		}
	})

	if !meta.IsEmpty() || len(meta.Extra) > 0 {
		rec.Metadata = meta
	}
	return rec, nil
}

// stripNamespace drops an "ns:" prefix so field matching is namespace-blind,
// since structured dumps are known to drift between prefixes run to run.
func stripNamespace(tag string) string {
	if i := strings.IndexByte(tag, ':'); i >= 0 {
		return tag[i+1:]
	}
	return tag
}
