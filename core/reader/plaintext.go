// Package reader implements the Record Source Readers: a plain-text
// line reader and a goquery-backed structured-record ("LVP") reader. Both
// expose a lazy forward-only sequence and retain no state beyond the current
// record, so either is safe to run inside a worker.
package reader

import (
	"bufio"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/bridgeway/qualify/core/domain"
	"github.com/bridgeway/qualify/pkg/apperr"
)

// fieldSeparators is the set of optional single-char separators a
// plain-text line may use after the address.
var fieldSeparators = []byte{',', ';', '\t'}

// PlainTextReader parses one-address-per-line files, optionally with extra
// delimited columns.
type PlainTextReader struct {
	path    string
	scanner *bufio.Scanner
	row     int
	done    bool
}

// NewPlainTextReader wraps r, which must already be positioned at the start
// of the file's content. The BOM, if present, is stripped on the first read.
func NewPlainTextReader(path string, r io.Reader) *PlainTextReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	return &PlainTextReader{path: path, scanner: scanner}
}

// Next returns the next Record, or (nil, io.EOF) when the file is exhausted.
// A line that fails to parse is never silently skipped except for blank
// lines and comments.
func (r *PlainTextReader) Next() (*domain.Record, error) {
	if r.done {
		return nil, io.EOF
	}

	for r.scanner.Scan() {
		r.row++
		line := r.scanner.Text()
		if r.row == 1 {
			line = strings.TrimPrefix(line, "﻿")
		}
		line = strings.TrimRight(line, "\r")
		trimmed := strings.TrimSpace(line)

		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}

		return r.parseLine(trimmed), nil
	}

	r.done = true
	if err := r.scanner.Err(); err != nil {
		return nil, apperr.ReadError(r.path, r.row, err)
	}
	return nil, io.EOF
}

func (r *PlainTextReader) parseLine(line string) *domain.Record {
	sepIdx := -1
	var sep byte
	for _, s := range fieldSeparators {
		if i := strings.IndexByte(line, s); i >= 0 && (sepIdx < 0 || i < sepIdx) {
			sepIdx = i
			sep = s
		}
	}

	rec := &domain.Record{
		SourceFile: r.path,
		SourceRow:  r.row,
	}

	if sepIdx < 0 {
		rec.RawAddress = line
		return rec
	}

	rec.RawAddress = line[:sepIdx]
	extra := strings.Split(line[sepIdx+1:], string(sep))
	rec.Metadata = &domain.Metadata{ExtraColumns: extra}
	return rec
}

// validUTF8 reports whether s decodes cleanly. The reader does not call it.
func validUTF8(s string) bool { return utf8.ValidString(s) }
