package capture

import (
	"fmt"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// resolveEncoding maps an encoding label to a decoder. ASCII labels select
// ASCII mode and decode as UTF-8 so that stray non-ASCII text is still
// recognisable. A nil encoding means the input is already UTF-8.
func resolveEncoding(name string) (enc encoding.Encoding, ascii bool, err error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "utf-8", "utf8":
		return nil, false, nil
	case "ascii", "us-ascii", "us_ascii":
		return nil, true, nil
	}

	enc, err = htmlindex.Get(name)
	if err != nil {
		return nil, false, fmt.Errorf("unknown encoding %q: %w", name, err)
	}
	if enc == unicode.UTF8 {
		return nil, false, nil
	}
	return enc, false, nil
}

func decode(enc encoding.Encoding, data []byte) ([]byte, error) {
	if enc == nil {
		return data, nil
	}
	out, _, err := transform.Bytes(enc.NewDecoder(), data)
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return out, nil
}

// asciiEquivalents holds safe ASCII stand-ins for common typographic runes.
var asciiEquivalents = map[rune]string{
	0x00A0: " ",
	0x2010: "-",
	0x2011: "-",
	0x2012: "-",
	0x2013: "-",
	0x2014: "-",
	0x2015: "-",
	0x2212: "-",
	0x2018: "'",
	0x2019: "'",
	0x201A: "'",
	0x2032: "'",
	0x201C: `"`,
	0x201D: `"`,
	0x201E: `"`,
	0x2033: `"`,
	0x2026: "...",
}
