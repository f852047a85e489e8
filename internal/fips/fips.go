// Package fips resolves state and county FIPS identifiers used by the
// Census Bureau's TIGER and ACS products.
package fips

import (
	"sort"
	"strings"

	"github.com/rotisserie/eris"
)

// States maps USPS state abbreviation to 2-digit FIPS code for all 50
// states, DC and Puerto Rico.
var States = map[string]string{
	"AL": "01", "AK": "02", "AZ": "04", "AR": "05", "CA": "06",
	"CO": "08", "CT": "09", "DE": "10", "DC": "11", "FL": "12",
	"GA": "13", "HI": "15", "ID": "16", "IL": "17", "IN": "18",
	"IA": "19", "KS": "20", "KY": "21", "LA": "22", "ME": "23",
	"MD": "24", "MA": "25", "MI": "26", "MN": "27", "MS": "28",
	"MO": "29", "MT": "30", "NE": "31", "NV": "32", "NH": "33",
	"NJ": "34", "NM": "35", "NY": "36", "NC": "37", "ND": "38",
	"OH": "39", "OK": "40", "OR": "41", "PA": "42", "RI": "44",
	"SC": "45", "SD": "46", "TN": "47", "TX": "48", "UT": "49",
	"VT": "50", "VA": "51", "WA": "53", "WV": "54", "WI": "55",
	"WY": "56", "PR": "72",
}

var abbrByCode map[string]string

func init() {
	abbrByCode = make(map[string]string, len(States))
	for abbr, code := range States {
		abbrByCode[code] = abbr
	}
}

// State resolves a state given either a USPS abbreviation ("PA") or a
// FIPS code ("42", zero-padding optional) and returns the 2-digit code.
func State(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", eris.New("fips: empty state")
	}
	if code, ok := States[strings.ToUpper(s)]; ok {
		return code, nil
	}
	code := NormalizeState(s)
	if _, ok := abbrByCode[code]; ok {
		return code, nil
	}
	return "", eris.Errorf("fips: unknown state %q", s)
}

// Abbr returns the USPS abbreviation for a state FIPS code.
func Abbr(code string) (string, bool) {
	abbr, ok := abbrByCode[NormalizeState(code)]
	return abbr, ok
}

// NormalizeState zero-pads a state FIPS code to 2 digits.
func NormalizeState(code string) string {
	code = strings.TrimSpace(code)
	if len(code) == 1 {
		return "0" + code
	}
	return code
}

// NormalizeCounty zero-pads a county FIPS code to 3 digits.
func NormalizeCounty(code string) string {
	code = strings.TrimSpace(code)
	if code == "" {
		return ""
	}
	for len(code) < 3 {
		code = "0" + code
	}
	return code
}

// AllStates returns all state FIPS codes in sorted order.
func AllStates() []string {
	codes := make([]string, 0, len(States))
	for _, code := range States {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}
