package classify

import (
	"regexp"
	"strings"

	"github.com/dealbridge/dealroom-capture/internal/engine"
)

const defaultSimilarityThreshold = 0.7

// keyTable holds the matching material for one canonical key.
type keyTable struct {
	key    engine.CanonicalKey
	exact  []string
	regex  []*regexp.Regexp
	phrase []string // fuzzy phrases compared by token-set similarity
}

func (t keyTable) matchesExact(text string) bool {
	for _, s := range t.exact {
		if strings.Contains(text, s) {
			return true
		}
	}
	return false
}

func (t keyTable) matchesRegex(text string) bool {
	for _, re := range t.regex {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

func (t keyTable) matchesFuzzy(text string, threshold float64) bool {
	for _, p := range t.phrase {
		if tokenSimilarity(text, p) >= threshold {
			return true
		}
	}
	return false
}

// defaultTables returns the canonical pattern tables in fixed enumeration
// order. Exact substrings are the cheapest and most precise tier, so they
// carry the short unambiguous markers; regexes catch structured variants
// (camelCase, snake_case, abbreviations); fuzzy phrases catch label prose.
func defaultTables() []keyTable {
	return []keyTable{
		{
			key:    engine.KeyEmail,
			exact:  []string{"email", "e-mail"},
			regex:  []*regexp.Regexp{regexp.MustCompile(`\be?mail[_\s-]?(address|addr)?\b`)},
			phrase: []string{"work email address", "business email", "contact email"},
		},
		{
			key:    engine.KeyPassword,
			exact:  []string{"password", "passwd"},
			regex:  []*regexp.Regexp{regexp.MustCompile(`\bpass[\s_-]?(word|code)\b`)},
			phrase: []string{"choose a password", "create password"},
		},
		{
			key:    engine.KeyUsername,
			exact:  []string{"username", "user name", "login id"},
			regex:  []*regexp.Regexp{regexp.MustCompile(`\buser[_\s-]?(name|id)\b`)},
			phrase: []string{"account user name"},
		},
		{
			key:    engine.KeyFullName,
			exact:  []string{"full name", "fullname", "your name"},
			regex:  []*regexp.Regexp{regexp.MustCompile(`\bfull[_\s-]?name\b`), regexp.MustCompile(`\bname[_\s-]?(on[_\s-]?account)?\b.*\bfull\b`)},
			phrase: []string{"first and last name", "name as it appears"},
		},
		{
			key:    engine.KeyFirstName,
			exact:  []string{"first name", "firstname", "fname", "given name"},
			regex:  []*regexp.Regexp{regexp.MustCompile(`\b(first|given)[_\s-]?name\b`), regexp.MustCompile(`\bf[_\s-]?name\b`)},
			phrase: []string{"your first name"},
		},
		{
			key:    engine.KeyLastName,
			exact:  []string{"last name", "lastname", "lname", "surname", "family name"},
			regex:  []*regexp.Regexp{regexp.MustCompile(`\b(last|family)[_\s-]?name\b`), regexp.MustCompile(`\bl[_\s-]?name\b`)},
			phrase: []string{"your last name"},
		},
		{
			key:    engine.KeyCompany,
			exact:  []string{"company", "organization", "organisation", "firm", "brokerage"},
			regex:  []*regexp.Regexp{regexp.MustCompile(`\b(company|org)[_\s-]?name\b`)},
			phrase: []string{"company or organization name"},
		},
		{
			key:    engine.KeyTitle,
			exact:  []string{"job title", "jobtitle", "role", "position"},
			regex:  []*regexp.Regexp{regexp.MustCompile(`\bjob[_\s-]?title\b`)},
			phrase: []string{"title or role", "your position"},
		},
		{
			key:    engine.KeyPhone,
			exact:  []string{"phone", "mobile", "telephone", "cell"},
			regex:  []*regexp.Regexp{regexp.MustCompile(`\b(tel|phone)[_\s-]?(number|no|num)?\b`)},
			phrase: []string{"mobile phone number", "daytime phone"},
		},
		{
			key:    engine.KeyWebsite,
			exact:  []string{"website", "web site", "homepage"},
			regex:  []*regexp.Regexp{regexp.MustCompile(`\bweb[_\s-]?(site|page|url)\b`), regexp.MustCompile(`\burl\b`)},
			phrase: []string{"company website"},
		},
		{
			key:    engine.KeyAddress1,
			exact:  []string{"address line 1", "address1", "street address", "addr1"},
			regex:  []*regexp.Regexp{regexp.MustCompile(`\baddress[_\s-]?(line[_\s-]?)?1\b`), regexp.MustCompile(`\bstreet\b`)},
			phrase: []string{"mailing address"},
		},
		{
			key:   engine.KeyAddress2,
			exact: []string{"address line 2", "address2", "addr2", "suite", "apt"},
			regex: []*regexp.Regexp{regexp.MustCompile(`\baddress[_\s-]?(line[_\s-]?)?2\b`), regexp.MustCompile(`\b(apt|unit|suite)[_\s-]?(number|no)?\b`)},
		},
		{
			key:    engine.KeyCity,
			exact:  []string{"city", "town", "locality"},
			regex:  []*regexp.Regexp{regexp.MustCompile(`\bcity\b`)},
			phrase: []string{"city or town"},
		},
		{
			key:   engine.KeyState,
			exact: []string{"state", "province", "region"},
			regex: []*regexp.Regexp{regexp.MustCompile(`\bstate[_\s-]?(province|region)?\b`)},
		},
		{
			key:    engine.KeyPostalCode,
			exact:  []string{"zip", "postal code", "postcode", "zipcode"},
			regex:  []*regexp.Regexp{regexp.MustCompile(`\b(zip|postal)[_\s-]?code\b`)},
			phrase: []string{"zip or postal code"},
		},
		{
			key:   engine.KeyCountry,
			exact: []string{"country", "nation"},
			regex: []*regexp.Regexp{regexp.MustCompile(`\bcountry\b`)},
		},
		{
			key:    engine.KeyCreditCard,
			exact:  []string{"card number", "credit card", "cardnumber", "ccnumber"},
			regex:  []*regexp.Regexp{regexp.MustCompile(`\b(cc|card)[_\s-]?(number|num|no)\b`), regexp.MustCompile(`\bpan\b`)},
			phrase: []string{"credit or debit card number"},
		},
		{
			key:   engine.KeyCVV,
			exact: []string{"cvv", "cvc", "cvv2", "security code"},
			regex: []*regexp.Regexp{regexp.MustCompile(`\bcv[vc]2?\b`), regexp.MustCompile(`\bcard[_\s-]?verification\b`)},
		},
		{
			key:   engine.KeyExpiry,
			exact: []string{"expiry", "expiration", "exp date"},
			regex: []*regexp.Regexp{regexp.MustCompile(`\bexp(iry|iration)?[_\s-]?(date|month|year|mm|yy)?\b`)},
		},
		{
			key:    engine.KeyCardholderName,
			exact:  []string{"cardholder", "name on card"},
			regex:  []*regexp.Regexp{regexp.MustCompile(`\bcard[_\s-]?holder\b`)},
			phrase: []string{"name as shown on card"},
		},
	}
}

// autocompleteKeys maps WHATWG autocomplete tokens to canonical keys. The
// attribute is checked before any free-text matching.
var autocompleteKeys = map[string]engine.CanonicalKey{
	"email":            engine.KeyEmail,
	"current-password": engine.KeyPassword,
	"new-password":     engine.KeyPassword,
	"username":         engine.KeyUsername,
	"name":             engine.KeyFullName,
	"given-name":       engine.KeyFirstName,
	"family-name":      engine.KeyLastName,
	"organization":     engine.KeyCompany,
	"organization-title": engine.KeyTitle,
	"tel":              engine.KeyPhone,
	"tel-national":     engine.KeyPhone,
	"url":              engine.KeyWebsite,
	"address-line1":    engine.KeyAddress1,
	"street-address":   engine.KeyAddress1,
	"address-line2":    engine.KeyAddress2,
	"address-level2":   engine.KeyCity,
	"address-level1":   engine.KeyState,
	"postal-code":      engine.KeyPostalCode,
	"country":          engine.KeyCountry,
	"country-name":     engine.KeyCountry,
	"cc-number":        engine.KeyCreditCard,
	"cc-csc":           engine.KeyCVV,
	"cc-exp":           engine.KeyExpiry,
	"cc-exp-month":     engine.KeyExpiry,
	"cc-exp-year":      engine.KeyExpiry,
	"cc-name":          engine.KeyCardholderName,
}

// normalizeAutocomplete strips section and contact-type prefixes, e.g.
// "section-blue shipping tel" resolves to "tel".
func normalizeAutocomplete(token string) string {
	fields := strings.Fields(strings.ToLower(strings.TrimSpace(token)))
	if len(fields) == 0 {
		return ""
	}
	return fields[len(fields)-1]
}
