package parse

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// atomicNumbers maps lowercase element symbols to Z.
var atomicNumbers = map[string]int{
	"h": 1, "he": 2, "li": 3, "be": 4, "b": 5, "c": 6, "n": 7, "o": 8,
	"f": 9, "ne": 10, "na": 11, "mg": 12, "al": 13, "si": 14, "p": 15,
	"s": 16, "cl": 17, "ar": 18, "k": 19, "ca": 20, "sc": 21, "ti": 22,
	"v": 23, "cr": 24, "mn": 25, "fe": 26, "co": 27, "ni": 28, "cu": 29,
	"zn": 30, "ga": 31, "ge": 32, "as": 33, "se": 34, "br": 35, "kr": 36,
	"rb": 37, "sr": 38, "y": 39, "zr": 40, "nb": 41, "mo": 42, "tc": 43,
	"ru": 44, "rh": 45, "pd": 46, "ag": 47, "cd": 48, "in": 49, "sn": 50,
	"sb": 51, "te": 52, "i": 53, "xe": 54, "cs": 55, "ba": 56, "la": 57,
	"ce": 58, "pr": 59, "nd": 60, "pm": 61, "sm": 62, "eu": 63, "gd": 64,
	"tb": 65, "dy": 66, "ho": 67, "er": 68, "tm": 69, "yb": 70, "lu": 71,
	"hf": 72, "ta": 73, "w": 74, "re": 75, "os": 76, "ir": 77, "pt": 78,
	"au": 79, "hg": 80, "tl": 81, "pb": 82, "bi": 83, "po": 84, "at": 85,
	"rn": 86, "fr": 87, "ra": 88, "ac": 89, "th": 90, "pa": 91, "u": 92,
	"np": 93, "pu": 94, "am": 95, "cm": 96, "bk": 97, "cf": 98,
}

// nuclidePattern matches ORIGEN nuclide names such as u235, pu239m, or
// am-242m.
var nuclidePattern = regexp.MustCompile(`^([a-z]{1,2})-?(\d{1,3})(m\d?)?$`)

// NuclideZAID converts an ORIGEN nuclide name to an MCNP ZAID
// (ZA = Z*1000 + A, metastable states add 400). Am-242 is the inverted
// special case: ZAID 95242 is the metastable state and 95642 the ground
// state.
func NuclideZAID(name string) (int, error) {
	match := nuclidePattern.FindStringSubmatch(strings.ToLower(strings.TrimSpace(name)))
	if match == nil {
		return 0, fmt.Errorf("unrecognized nuclide name %q", name)
	}

	z, ok := atomicNumbers[match[1]]
	if !ok {
		return 0, fmt.Errorf("unknown element symbol %q in nuclide %q", match[1], name)
	}
	a, err := strconv.Atoi(match[2])
	if err != nil {
		return 0, fmt.Errorf("bad mass number in nuclide %q: %w", name, err)
	}
	metastable := match[3] != ""

	if z == 95 && a == 242 {
		if metastable {
			return 95242, nil
		}
		return 95642, nil
	}

	zaid := z*1000 + a
	if metastable {
		zaid += 400
	}
	return zaid, nil
}
