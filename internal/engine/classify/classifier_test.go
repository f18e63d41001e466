package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dealbridge/dealroom-capture/internal/engine"
)

func TestClassifyExactSubstring(t *testing.T) {
	t.Parallel()

	c := New()
	cases := []struct {
		name string
		desc engine.FieldDescriptor
		want engine.CanonicalKey
	}{
		{"email by name attr", engine.FieldDescriptor{Name: "email"}, engine.KeyEmail},
		{"email by label", engine.FieldDescriptor{Label: "Work Email Address"}, engine.KeyEmail},
		{"first name by placeholder", engine.FieldDescriptor{Placeholder: "First Name"}, engine.KeyFirstName},
		{"company by aria label", engine.FieldDescriptor{AriaLabel: "Company"}, engine.KeyCompany},
		{"zip by id", engine.FieldDescriptor{ID: "billing-zip"}, engine.KeyPostalCode},
		{"card number", engine.FieldDescriptor{Name: "cardNumber", Label: "Card Number"}, engine.KeyCreditCard},
		{"no signals", engine.FieldDescriptor{}, engine.KeyUnknown},
		{"unrelated text", engine.FieldDescriptor{Label: "Favorite color"}, engine.KeyUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := c.Classify(tc.desc); got != tc.want {
				t.Fatalf("Classify(%+v) = %v, want %v", tc.desc, got, tc.want)
			}
		})
	}
}

func TestClassifyExactWinsRegardlessOfOtherTiers(t *testing.T) {
	t.Parallel()

	c := New()
	// "email" is an exact substring; the surrounding prose would also
	// fuzzy-match phone phrases, but the exact tier resolves first.
	d := engine.FieldDescriptor{
		Label:    "Email",
		Surround: "enter your daytime phone number or mobile phone if you prefer",
	}
	assert.Equal(t, engine.KeyEmail, c.Classify(d))
}

func TestClassifyRegexTier(t *testing.T) {
	t.Parallel()

	c := New()
	if got := c.Classify(engine.FieldDescriptor{Name: "f_name"}); got != engine.KeyFirstName {
		t.Fatalf("f_name classified as %v, want first_name", got)
	}
	if got := c.Classify(engine.FieldDescriptor{ID: "exp_mm"}); got != engine.KeyExpiry {
		t.Fatalf("exp_mm classified as %v, want expiry", got)
	}
}

func TestClassifyFuzzyTier(t *testing.T) {
	t.Parallel()

	c := New()
	// No exact token, but near-match tokens of "first and last name".
	d := engine.FieldDescriptor{Surround: "please provide first and lastt nam"}
	got := c.Classify(d)
	assert.NotEqual(t, engine.KeyUnknown, got, "fuzzy phrase should classify")
}

func TestClassifyDeterministic(t *testing.T) {
	t.Parallel()

	c := New()
	d := engine.FieldDescriptor{Label: "Work Email Address"}
	first := c.Classify(d)
	for i := 0; i < 50; i++ {
		if got := c.Classify(d); got != first {
			t.Fatalf("classification not deterministic: %v then %v", first, got)
		}
	}
	assert.Equal(t, engine.KeyEmail, first)
}

func TestClassifyAutocomplete(t *testing.T) {
	t.Parallel()

	c := New()
	cases := map[string]engine.CanonicalKey{
		"email":                 engine.KeyEmail,
		"shipping tel":          engine.KeyPhone,
		"section-a given-name":  engine.KeyFirstName,
		"cc-number":             engine.KeyCreditCard,
		"off":                   engine.KeyUnknown,
		"":                      engine.KeyUnknown,
	}
	for token, want := range cases {
		if got := c.ClassifyAutocomplete(token); got != want {
			t.Fatalf("ClassifyAutocomplete(%q) = %v, want %v", token, got, want)
		}
	}
}

func TestIsSensitive(t *testing.T) {
	t.Parallel()

	c := New()
	assert.True(t, c.IsSensitive(engine.FieldDescriptor{Label: "Card Number"}))
	assert.True(t, c.IsSensitive(engine.FieldDescriptor{Name: "cvv"}))
	assert.False(t, c.IsSensitive(engine.FieldDescriptor{Name: "email"}))
}

func TestTokenSimilarity(t *testing.T) {
	t.Parallel()

	if s := tokenSimilarity("work email address please", "work email address"); s < 0.99 {
		t.Fatalf("full phrase present, similarity = %f", s)
	}
	if s := tokenSimilarity("favorite color", "postal code"); s != 0 {
		t.Fatalf("unrelated text similarity = %f, want 0", s)
	}
	if !tokensNearMatch("address", "adress") {
		t.Fatalf("expected adress to near-match address")
	}
}
