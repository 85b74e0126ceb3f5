package residue

import "strings"

// Canonical lists the 20 standard amino acid codes
var Canonical = []string{
	"ALA", "ARG", "ASN", "ASP", "CYS", "GLN", "GLU", "GLY", "HIS", "ILE",
	"LEU", "LYS", "MET", "PHE", "PRO", "SER", "THR", "TRP", "TYR", "VAL",
}

// NonStandard lists the recognised non-standard codes:
// selenomethionine, selenocysteine, pyrrolysine
var NonStandard = []string{"MSE", "SEC", "PYL"}

// Unknown is used when the observed residue type could not be determined
const Unknown = "UNK"

var recognized = func() map[string]struct{} {
	m := make(map[string]struct{}, len(Canonical)+len(NonStandard))
	for _, c := range Canonical {
		m[c] = struct{}{}
	}
	for _, c := range NonStandard {
		m[c] = struct{}{}
	}
	return m
}()

// Normalize trims and upper-cases a three-letter code
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// IsRecognized reports whether code (already normalised) is a valid target
func IsRecognized(code string) bool {
	_, ok := recognized[code]
	return ok
}
