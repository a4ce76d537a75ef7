// Package countries holds the fixed registry of recognized country names.
//
// The enumeration order below is part of the contract: Extract returns the
// first registry entry found in the text, scanning in this order, so callers
// can rely on deterministic results when a text mentions several countries.
package countries

import (
	"regexp"
	"strings"
)

var names = []string{
	"Afghanistan", "Albania", "Algeria", "Andorra", "Angola",
	"Argentina", "Armenia", "Australia", "Austria", "Azerbaijan",
	"Bahamas", "Bahrain", "Bangladesh", "Barbados", "Belarus",
	"Belgium", "Belize", "Benin", "Bhutan", "Bolivia",
	"Botswana", "Brazil", "Brunei", "Bulgaria", "Burkina Faso",
	"Burundi", "Cambodia", "Cameroon", "Canada", "Chad",
	"Chile", "China", "Colombia", "Comoros", "Costa Rica",
	"Croatia", "Cuba", "Cyprus", "Czech Republic", "Denmark",
	"Djibouti", "Dominica", "Dominican Republic", "Ecuador", "Egypt",
	"El Salvador", "Estonia", "Ethiopia", "Fiji", "Finland",
	"France", "Gabon", "Gambia", "Georgia", "Germany",
	"Ghana", "Greece", "Grenada", "Guatemala", "Guinea",
	"Guyana", "Haiti", "Honduras", "Hungary", "Iceland",
	"India", "Indonesia", "Iran", "Iraq", "Ireland",
	"Israel", "Italy", "Jamaica", "Japan", "Jordan",
	"Kazakhstan", "Kenya", "Kiribati", "Kuwait", "Laos",
	"Latvia", "Lebanon", "Lesotho", "Liberia", "Libya",
	"Liechtenstein", "Lithuania", "Luxembourg", "Madagascar", "Malawi",
	"Malaysia", "Maldives", "Mali", "Malta", "Mexico",
	"Monaco", "Mongolia", "Morocco", "Mozambique", "Myanmar",
	"Namibia", "Nauru", "Nepal", "Netherlands", "New Zealand",
	"Nicaragua", "Niger", "Nigeria", "Norway", "Oman",
	"Pakistan", "Palau", "Panama", "Paraguay", "Peru",
	"Philippines", "Poland", "Portugal", "Qatar", "Romania",
	"Russia", "Rwanda", "Saint Kitts and Nevis", "Saint Lucia", "Saint Vincent and the Grenadines",
	"Samoa", "San Marino", "Sao Tome and Principe", "Saudi Arabia", "Senegal",
	"Serbia", "Seychelles", "Sierra Leone", "Singapore", "Slovakia",
	"Slovenia", "Somalia", "South Africa", "South Korea", "Spain",
	"Sri Lanka", "Sudan", "Suriname", "Sweden", "Switzerland",
	"Syria", "Taiwan", "Tajikistan", "Tanzania", "Thailand",
	"Togo", "Tonga", "Trinidad and Tobago", "Tunisia", "Turkey",
	"Turkmenistan", "Tuvalu", "Uganda", "Ukraine", "United Arab Emirates",
	"United Kingdom", "United States", "Uruguay", "Uzbekistan", "Vanuatu",
	"Vatican City", "Venezuela", "Vietnam", "Yemen", "Zambia",
	"Zimbabwe",
}

// patterns match each country as a whole word, case-insensitively.
var patterns = func() []*regexp.Regexp {
	ps := make([]*regexp.Regexp, len(names))
	for i, name := range names {
		ps[i] = regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(name) + `\b`)
	}
	return ps
}()

// All returns the registry in enumeration order. The returned slice is shared;
// callers must not modify it.
func All() []string {
	return names
}

// IsCountry reports whether text, trimmed and ignoring case, is a registered
// country name.
func IsCountry(text string) bool {
	trimmed := strings.TrimSpace(text)
	for _, name := range names {
		if strings.EqualFold(trimmed, name) {
			return true
		}
	}
	return false
}

// Extract returns the first registry entry that occurs in text as a whole
// word, ignoring case. "First" means first in registry order, not first in the
// text. The second return is false when no country is mentioned.
func Extract(text string) (string, bool) {
	for i, p := range patterns {
		if p.MatchString(text) {
			return names[i], true
		}
	}
	return "", false
}
