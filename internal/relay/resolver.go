package relay

import (
	"encoding/csv"
	"errors"
	"io"
	"regexp"
	"strings"

	"github.com/russross/blackfriday/v2"
)

var (
	ErrEmptyRecipientList = errors.New("recipient list is empty")
	ErrWrongFileType      = errors.New("recipient list must be a .csv file")
	ErrMalformedInput     = errors.New("recipient list is not parseable")
)

// tagPattern strips anything that looks like an HTML/markdown-rendered tag.
var tagPattern = regexp.MustCompile(`<.*?>`)

// Recipients extracts an ordered address list from an uploaded CSV.
//
// The file name is checked before any parsing happens: anything not ending
// in ".csv" is rejected with ErrWrongFileType. Only the first column is
// used; rows keep their file order. Blank cells are skipped.
func Recipients(filename string, r io.Reader) ([]string, error) {
	if !strings.HasSuffix(strings.ToLower(strings.TrimSpace(filename)), ".csv") {
		return nil, ErrWrongFileType
	}

	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1 // recipient files are single-column but tolerate extras
	cr.TrimLeadingSpace = true

	var out []string
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, ErrMalformedInput
		}
		if len(rec) == 0 {
			continue
		}
		addr := strings.TrimSpace(rec[0])
		if addr == "" {
			continue
		}
		out = append(out, addr)
	}
	if len(out) == 0 {
		return nil, ErrEmptyRecipientList
	}
	return out, nil
}

// SanitizeLink renders markdown and strips every tag, leaving plain text.
// Sanitizing already-plain text returns it unchanged.
func SanitizeLink(s string) string {
	rendered := blackfriday.Run([]byte(s))
	return strings.TrimSpace(tagPattern.ReplaceAllString(string(rendered), ""))
}

// JoinBody concatenates two text fragments with a single newline, dropping
// the separator when either side is empty.
func JoinBody(first, second string) string {
	if first == "" {
		return second
	}
	if second == "" {
		return first
	}
	return first + "\n" + second
}
