package consent

import "regexp"

// TargetType narrows which element kind a pattern applies to.
type TargetType string

// Pattern targets.
const (
	TargetCheckbox TargetType = "checkbox"
	TargetRadio    TargetType = "radio"
	TargetButton   TargetType = "button"
)

// Pattern is one prioritized consent matcher. Higher priority is evaluated
// first; the first match wins per element.
type Pattern struct {
	Regex    *regexp.Regexp
	Priority int
	Target   TargetType
}

// defaultPatterns returns the built-in consent pattern list, highest
// priority first. Platform tables may prepend host-specific entries.
func defaultPatterns() []Pattern {
	return []Pattern{
		{Regex: regexp.MustCompile(`(?i)\bi\s+(have\s+read\s+and\s+)?(agree|accept)\b`), Priority: 100, Target: TargetCheckbox},
		{Regex: regexp.MustCompile(`(?i)\b(terms\s+(of\s+(service|use)|and\s+conditions))\b`), Priority: 90, Target: TargetCheckbox},
		{Regex: regexp.MustCompile(`(?i)\b(confidentiality|non.?disclosure|nda)\b`), Priority: 85, Target: TargetCheckbox},
		{Regex: regexp.MustCompile(`(?i)\bprivacy\s+policy\b`), Priority: 80, Target: TargetCheckbox},
		{Regex: regexp.MustCompile(`(?i)\b(consent|acknowledge)\b`), Priority: 70, Target: TargetCheckbox},
		{Regex: regexp.MustCompile(`(?i)\bdo\s+you\s+(agree|accept)\b`), Priority: 90, Target: TargetRadio},
		{Regex: regexp.MustCompile(`(?i)\b(agree|accept|acknowledge)\b.*\b(terms|conditions|agreement|nda)\b`), Priority: 80, Target: TargetRadio},
		{Regex: regexp.MustCompile(`(?i)^\s*i\s+agree\s*$`), Priority: 100, Target: TargetButton},
		{Regex: regexp.MustCompile(`(?i)\b(accept\s*(&|and)?\s*(continue)?|agree\s*(&|and)?\s*continue)\b`), Priority: 90, Target: TargetButton},
		{Regex: regexp.MustCompile(`(?i)\baccept\b`), Priority: 80, Target: TargetButton},
		{Regex: regexp.MustCompile(`(?i)\bcontinue\b`), Priority: 40, Target: TargetButton},
	}
}

// positiveChoice matches the affirmative member of a consent radio group.
// Anchored at the start so "No, I do not accept" never looks affirmative.
var positiveChoice = regexp.MustCompile(`(?i)^\s*(yes|i\s+agree|i\s+accept|agree|accept|confirm)\b`)

// negativeChoice guards against selecting a declining member outright.
var negativeChoice = regexp.MustCompile(`(?i)\b(no|not|never|decline|disagree|refuse)\b`)

// marketingOptIn matches newsletter/marketing checkboxes, which are left
// alone unless the aggressive opt-in flag is set.
var marketingOptIn = regexp.MustCompile(`(?i)\b(newsletter|marketing|promotional|promotions?|subscribe|mailing\s+list|special\s+offers|product\s+updates)\b`)
