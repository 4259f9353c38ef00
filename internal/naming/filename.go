package naming

import (
	"fmt"
	"regexp"
	"strconv"
)

const (
	// DeckExt is the extension for generated input decks.
	DeckExt = ".inp"
	// OutputExt is the extension SCALE writes its primary output under.
	OutputExt = ".out"
	// MessageExt is the extension for the SCALE message companion file.
	MessageExt = ".msg"
)

// deckFilePattern matches element deck filenames and captures the encoded
// name token and the zero-padded sequence field.
// Sequences are zero-padded to four digits but may grow past 9999.
var deckFilePattern = regexp.MustCompile(`^element_(.+)_E(\d{4,})\.inp$`)

// DeckFileName builds the input deck filename for an element. The
// sequence must already be finalized: the zero-padded field embedded here
// is the authoritative cross-stage correlation key.
func DeckFileName(token string, seq int) string {
	return fmt.Sprintf("element_%s_E%04d%s", token, seq, DeckExt)
}

// OutputFileName returns the expected SCALE output filename for a deck.
func OutputFileName(token string, seq int) string {
	return fmt.Sprintf("element_%s_E%04d%s", token, seq, OutputExt)
}

// MessageFileName returns the expected SCALE message filename for a deck.
func MessageFileName(token string, seq int) string {
	return fmt.Sprintf("element_%s_E%04d%s", token, seq, MessageExt)
}

// ParseDeckFileName recovers the source name and sequence number from a
// deck filename produced by DeckFileName.
func ParseDeckFileName(filename string) (name string, seq int, err error) {
	match := deckFilePattern.FindStringSubmatch(filename)
	if match == nil {
		return "", 0, fmt.Errorf("filename %q is not an element deck", filename)
	}
	name, err = Decode(match[1])
	if err != nil {
		return "", 0, fmt.Errorf("parse deck filename %q: %w", filename, err)
	}
	seq, err = strconv.Atoi(match[2])
	if err != nil {
		return "", 0, fmt.Errorf("parse deck filename %q: %w", filename, err)
	}
	if seq < SequenceBase {
		return "", 0, fmt.Errorf("parse deck filename %q: sequence %d below base", filename, seq)
	}
	return name, seq, nil
}
