package residue

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"unicode"
)

// ErrMalformed is returned when residue text cannot be parsed
var ErrMalformed = errors.New("malformed residue identifier")

// ID identifies one residue: chain + sequence number [+ insertion code].
// It is a comparable value type and is used directly as a map key.
type ID struct {
	Chain string `json:"chain"`
	Seq   int    `json:"seq"`
	ICode string `json:"icode,omitempty"`
}

// New builds an ID, normalising the insertion code to upper case
func New(chain string, seq int, icode string) ID {
	return ID{Chain: chain, Seq: seq, ICode: strings.ToUpper(strings.TrimSpace(icode))}
}

// String returns the canonical "<chain> <seq>[<icode>]" form, e.g. "A 52B"
func (id ID) String() string {
	return fmt.Sprintf("%s %d%s", id.Chain, id.Seq, id.ICode)
}

// Key returns a URL-safe form "<chain>:<seq>[<icode>]"
func (id ID) Key() string {
	return fmt.Sprintf("%s:%d%s", id.Chain, id.Seq, id.ICode)
}

// IsZero reports whether the ID is unset
func (id ID) IsZero() bool {
	return id.Chain == "" && id.Seq == 0 && id.ICode == ""
}

// Parse parses the canonical form. Chain and sequence number must be
// separated by exactly one space.
func Parse(text string) (ID, error) {
	chain, num, ok := strings.Cut(text, " ")
	if !ok {
		return ID{}, fmt.Errorf("%w: %q: expected \"<chain> <seq>\"", ErrMalformed, text)
	}
	return parseParts(text, chain, num)
}

// ParseKey parses the form produced by Key
func ParseKey(key string) (ID, error) {
	chain, num, ok := strings.Cut(key, ":")
	if !ok {
		return ID{}, fmt.Errorf("%w: %q: expected \"<chain>:<seq>\"", ErrMalformed, key)
	}
	return parseParts(key, chain, num)
}

func parseParts(text, chain, num string) (ID, error) {
	if chain == "" || strings.ContainsFunc(chain, unicode.IsSpace) {
		return ID{}, fmt.Errorf("%w: %q: bad chain", ErrMalformed, text)
	}
	if num == "" || strings.ContainsFunc(num, unicode.IsSpace) {
		return ID{}, fmt.Errorf("%w: %q: bad sequence number", ErrMalformed, text)
	}

	// split an optional single-letter insertion code off the end
	icode := ""
	last := rune(num[len(num)-1])
	if unicode.IsLetter(last) {
		icode = string(unicode.ToUpper(last))
		num = num[:len(num)-1]
	}

	seq, err := strconv.Atoi(num)
	if err != nil {
		return ID{}, fmt.Errorf("%w: %q: sequence number %q is not an integer", ErrMalformed, text, num)
	}

	return ID{Chain: chain, Seq: seq, ICode: icode}, nil
}

// Compare orders by chain, then sequence number, then insertion code.
// An empty insertion code sorts before any letter.
func Compare(a, b ID) int {
	if c := cmp.Compare(a.Chain, b.Chain); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Seq, b.Seq); c != 0 {
		return c
	}
	return cmp.Compare(a.ICode, b.ICode)
}

// Less reports whether a sorts before b
func Less(a, b ID) bool {
	return Compare(a, b) < 0
}

// Sort sorts ids in place
func Sort(ids []ID) {
	slices.SortFunc(ids, Compare)
}
