package codec

import (
	"html"
	"regexp"
	"strconv"
	"strings"
)

var entityRe = regexp.MustCompile(`&#?\w+;`)

// illegalRanges are code points XML 1.0 does not allow in documents.
var illegalRanges = [][2]rune{
	{0x00, 0x08}, {0x0B, 0x0C}, {0x0E, 0x1F}, {0x7F, 0x84},
	{0x86, 0x9F}, {0xD800, 0xDFFF}, {0xFDD0, 0xFDDF},
	{0xFFFE, 0xFFFF},
}

func illegalXMLRune(r rune) bool {
	for _, rg := range illegalRanges {
		if r >= rg[0] && r <= rg[1] {
			return true
		}
	}
	// U+nFFFE and U+nFFFF in every supplementary plane.
	return r > 0xFFFF && r&0xFFFE == 0xFFFE
}

// xmlSpecial are the characters that must stay escaped inside markup.
const xmlSpecial = `<>&'"`

// Sanitize prepares engine text for the XML parser. Named HTML entities
// and character references are replaced by the characters they denote,
// except where the result would be markup. Code points illegal in XML and
// invalid UTF-8 are replaced by '?'.
func Sanitize(s string) string {
	s = entityRe.ReplaceAllStringFunc(s, unescapeEntity)
	s = strings.ToValidUTF8(s, "?")
	return strings.Map(func(r rune) rune {
		if illegalXMLRune(r) {
			return '?'
		}
		return r
	}, s)
}

func unescapeEntity(ent string) string {
	body := ent[1 : len(ent)-1]
	if strings.HasPrefix(body, "#") {
		var n int64
		var err error
		if strings.HasPrefix(body, "#x") || strings.HasPrefix(body, "#X") {
			n, err = strconv.ParseInt(body[2:], 16, 32)
		} else {
			n, err = strconv.ParseInt(body[1:], 10, 32)
		}
		if err != nil || n < 0 || n > 0x10FFFF {
			return ent
		}
		r := rune(n)
		if strings.ContainsRune(xmlSpecial, r) {
			return ent
		}
		if illegalXMLRune(r) {
			return "?"
		}
		return string(r)
	}

	switch body {
	case "amp", "apos", "gt", "lt", "quot":
		return ent
	}
	return html.UnescapeString(ent)
}
