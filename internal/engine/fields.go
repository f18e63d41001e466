package engine

import "strings"

// CanonicalKey identifies one semantic form-data kind, independent of any
// page's actual field naming. The enumeration is closed and ordered; table
// scans in the classifier walk it in this order and the first match wins.
type CanonicalKey int

// Canonical field kinds. The card-data variants are sensitive and are never
// auto-filled when skip-sensitive mode is requested.
const (
	KeyUnknown CanonicalKey = iota
	KeyEmail
	KeyPassword
	KeyUsername
	KeyFullName
	KeyFirstName
	KeyLastName
	KeyCompany
	KeyTitle
	KeyPhone
	KeyWebsite
	KeyAddress1
	KeyAddress2
	KeyCity
	KeyState
	KeyPostalCode
	KeyCountry
	KeyCreditCard
	KeyCVV
	KeyExpiry
	KeyCardholderName
)

var keyNames = map[CanonicalKey]string{
	KeyUnknown:        "unknown",
	KeyEmail:          "email",
	KeyPassword:       "password",
	KeyUsername:       "username",
	KeyFullName:       "full_name",
	KeyFirstName:      "first_name",
	KeyLastName:       "last_name",
	KeyCompany:        "company",
	KeyTitle:          "title",
	KeyPhone:          "phone",
	KeyWebsite:        "website",
	KeyAddress1:       "address1",
	KeyAddress2:       "address2",
	KeyCity:           "city",
	KeyState:          "state",
	KeyPostalCode:     "postal_code",
	KeyCountry:        "country",
	KeyCreditCard:     "credit_card",
	KeyCVV:            "cvv",
	KeyExpiry:         "expiry",
	KeyCardholderName: "cardholder_name",
}

func (k CanonicalKey) String() string {
	if name, ok := keyNames[k]; ok {
		return name
	}
	return "unknown"
}

// ParseKey resolves a configuration name like "email" or "full_name" to its
// canonical key.
func ParseKey(name string) (CanonicalKey, bool) {
	name = strings.TrimSpace(strings.ToLower(name))
	for k, n := range keyNames {
		if n == name && k != KeyUnknown {
			return k, true
		}
	}
	return KeyUnknown, false
}

// IsSensitive reports whether the key carries payment-card data.
func (k CanonicalKey) IsSensitive() bool {
	switch k {
	case KeyCreditCard, KeyCVV, KeyExpiry, KeyCardholderName:
		return true
	default:
		return false
	}
}

// CanonicalKeys returns all keys in fixed enumeration order, excluding
// KeyUnknown.
func CanonicalKeys() []CanonicalKey {
	keys := make([]CanonicalKey, 0, int(KeyCardholderName))
	for k := KeyEmail; k <= KeyCardholderName; k++ {
		keys = append(keys, k)
	}
	return keys
}

// DataBucket maps canonical keys to the values used to fill forms. It is
// assembled by a collaborator from configuration and environment, and is
// immutable for the duration of one job.
type DataBucket map[CanonicalKey]string

// Value returns the bucket entry for key, trimmed of surrounding space.
func (b DataBucket) Value(key CanonicalKey) (string, bool) {
	v, ok := b[key]
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

// FieldDescriptor aggregates the textual signals of one form control. It is
// ephemeral: descriptors are recomputed on every scan and never cached
// across navigations.
type FieldDescriptor struct {
	Name         string
	ID           string
	Type         string
	Placeholder  string
	AriaLabel    string
	Label        string
	Autocomplete string
	Surround     string
}

// surroundTextLimit bounds how much surrounding text a descriptor carries,
// so one verbose container cannot dominate token matching.
const surroundTextLimit = 160

// Text joins every signal into one lowercase haystack for matching.
func (d FieldDescriptor) Text() string {
	surround := d.Surround
	if len(surround) > surroundTextLimit {
		surround = surround[:surroundTextLimit]
	}
	parts := []string{d.Name, d.ID, d.Type, d.Placeholder, d.AriaLabel, d.Label, surround}
	return strings.ToLower(strings.Join(parts, " "))
}

// DescribeControl builds a FieldDescriptor from a scanned control.
func DescribeControl(c Control) FieldDescriptor {
	return FieldDescriptor{
		Name:         c.Name,
		ID:           c.DOMID,
		Type:         c.Type,
		Placeholder:  c.Placeholder,
		AriaLabel:    c.AriaLabel,
		Label:        c.Label,
		Autocomplete: c.Autocomplete,
		Surround:     c.Surround,
	}
}
