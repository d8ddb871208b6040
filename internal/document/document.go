// Package document converts uploaded bytes into plain text for segmentation.
//
// Only text formats are handled in-process; binary formats are converted
// upstream and reach this package as text/plain.
package document

import (
	"bytes"
	"fmt"
	"mime"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/seanblong/contractlens/internal/errs"
)

const (
	KindPlain    = "text/plain"
	KindMarkdown = "text/markdown"
)

var bom = []byte{0xEF, 0xBB, 0xBF}

// Parsed is the text form of an uploaded document.
type Parsed struct {
	Text      string `json:"text"`
	PageCount int    `json:"page_count"`
	Language  string `json:"detected_language"`
	Kind      string `json:"kind"`
}

// ParseError reports a document that could not be turned into text.
type ParseError struct {
	Kind   string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %s", e.Kind, e.Reason)
}

// Is lets errors.Is match parse failures against errs.ErrValidation.
func (e *ParseError) Is(target error) bool {
	return target == errs.ErrValidation
}

// Parse decodes data according to its declared media type. Parameters such
// as charset are accepted but the payload must be UTF-8.
func Parse(data []byte, kind string) (Parsed, error) {
	mt, _, err := mime.ParseMediaType(kind)
	if err != nil {
		return Parsed{}, &ParseError{Kind: kind, Reason: "malformed media type"}
	}
	switch mt {
	case KindPlain, KindMarkdown:
	default:
		return Parsed{}, &ParseError{Kind: mt, Reason: "unsupported media type"}
	}

	data = bytes.TrimPrefix(data, bom)
	if !utf8.Valid(data) {
		return Parsed{}, &ParseError{Kind: mt, Reason: "text is not valid UTF-8"}
	}
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	text = strings.ReplaceAll(text, "\x00", "")
	if strings.TrimSpace(text) == "" {
		return Parsed{}, &ParseError{Kind: mt, Reason: "no extractable text"}
	}

	return Parsed{
		Text:      text,
		PageCount: strings.Count(strings.TrimRight(text, "\f\n "), "\f") + 1,
		Language:  DetectLanguage(text),
		Kind:      mt,
	}, nil
}

// DetectLanguage guesses the document language from the letters in its
// first few thousand runes: "hi" when Devanagari dominates, "ta" for Tamil,
// otherwise "en".
func DetectLanguage(text string) string {
	var latin, deva, tamil, n int
	for _, r := range text {
		if n >= 2000 {
			break
		}
		if !unicode.IsLetter(r) {
			continue
		}
		n++
		switch {
		case unicode.Is(unicode.Devanagari, r):
			deva++
		case unicode.Is(unicode.Tamil, r):
			tamil++
		case unicode.Is(unicode.Latin, r):
			latin++
		}
	}
	switch {
	case deva > latin && deva >= tamil:
		return "hi"
	case tamil > latin:
		return "ta"
	default:
		return "en"
	}
}
