package match

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// legalSuffixes lists legal-entity suffixes stripped during name
// normalization. Latin-script forms first, then common CJK company forms.
var legalSuffixes = []string{
	" LLC", " L.L.C.", " L.L.C",
	" INC", " INC.", " INCORPORATED",
	" CORP", " CORP.", " CORPORATION",
	" LTD", " LTD.", " LIMITED",
	" CO LTD", " CO., LTD.", " CO.,LTD.", " CO., LTD", " CO.,LTD",
	" LP", " L.P.", " L.P",
	" LLP", " L.L.P.", " L.L.P",
	" GMBH", " S.A.", " S.A", " B.V.", " B.V",
	" CO", " CO.",
	" PLC", " P.L.C.",
	"股份有限公司", "有限责任公司", "有限公司", "集团", "公司",
}

var multiSpaceRe = regexp.MustCompile(`\s{2,}`)

// diacriticFolder strips combining marks so locale spellings like
// "Müller" and "Muller" normalize identically.
var diacriticFolder = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// NormalizeName standardizes an entity name for matching by:
//  1. Trimming whitespace
//  2. Folding diacritics and upper-casing
//  3. Removing legal-entity suffixes (LLC, Ltd, 有限公司, etc.)
//  4. Stripping punctuation (commas, periods, dashes, ampersands)
//  5. Collapsing multiple spaces into single spaces
func NormalizeName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}

	if folded, _, err := transform.String(diacriticFolder, name); err == nil {
		name = folded
	}
	name = strings.ToUpper(name)

	// Strip legal suffixes (longest forms listed first where they nest).
	for _, suffix := range legalSuffixes {
		if strings.HasSuffix(name, suffix) {
			name = strings.TrimSuffix(name, suffix)
			break
		}
	}

	name = strings.NewReplacer(
		",", "",
		".", "",
		"'", "",
		"\"", "",
		"(", " ",
		")", " ",
		"&", "AND",
		"-", " ",
	).Replace(name)

	name = multiSpaceRe.ReplaceAllString(name, " ")
	return strings.TrimSpace(name)
}

// NormalizeCode strips separators and whitespace from a registration code
// and upper-cases it for exact lookup.
func NormalizeCode(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	return strings.NewReplacer("-", "", " ", "", ".", "").Replace(code)
}
