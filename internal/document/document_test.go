package document

import (
	"errors"
	"testing"

	"github.com/seanblong/contractlens/internal/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name      string
		data      string
		kind      string
		wantText  string
		wantPages int
		wantLang  string
	}{
		{
			name:      "plain text",
			data:      "1. Rent. INR 25000 per month.",
			kind:      "text/plain",
			wantText:  "1. Rent. INR 25000 per month.",
			wantPages: 1,
			wantLang:  "en",
		},
		{
			name:      "bom and crlf",
			data:      "\xEF\xBB\xBF1. Rent.\r\n2. Deposit.\r\n",
			kind:      "text/plain; charset=utf-8",
			wantText:  "1. Rent.\n2. Deposit.\n",
			wantPages: 1,
			wantLang:  "en",
		},
		{
			name:      "markdown with pages",
			data:      "# Lease\nfirst page\fsecond page\fthird page\f\n",
			kind:      "text/markdown",
			wantText:  "# Lease\nfirst page\fsecond page\fthird page\f\n",
			wantPages: 3,
			wantLang:  "en",
		},
		{
			name:      "hindi",
			data:      "किरायेदार हर महीने किराया देगा। Rent",
			kind:      "text/plain",
			wantText:  "किरायेदार हर महीने किराया देगा। Rent",
			wantPages: 1,
			wantLang:  "hi",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Parse([]byte(tt.data), tt.kind)
			require.NoError(t, err)
			assert.Equal(t, tt.wantText, p.Text)
			assert.Equal(t, tt.wantPages, p.PageCount)
			assert.Equal(t, tt.wantLang, p.Language)
		})
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		kind string
	}{
		{"pdf", []byte("%PDF-1.7"), "application/pdf"},
		{"malformed kind", []byte("x"), "text/"},
		{"invalid utf8", []byte{0xff, 0xfe, 'a'}, "text/plain"},
		{"empty", []byte("  \n "), "text/plain"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.data, tt.kind)
			require.Error(t, err)

			var pe *ParseError
			assert.True(t, errors.As(err, &pe))
			assert.ErrorIs(t, err, errs.ErrValidation)
		})
	}
}

func TestDetectLanguage(t *testing.T) {
	assert.Equal(t, "en", DetectLanguage(""))
	assert.Equal(t, "en", DetectLanguage("12345 !!"))
	assert.Equal(t, "ta", DetectLanguage("வாடகை ஒப்பந்தம்"))
	assert.Equal(t, "hi", DetectLanguage("अनुबंध"))
}
