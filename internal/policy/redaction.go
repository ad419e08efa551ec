package policy

import "regexp"

var (
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	cardPattern  = regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`)
	phonePattern = regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`)
)

// RedactPII masks common high-risk PII patterns in text that leaves the
// service boundary, i.e. requester messages forwarded to the external reply
// engine. The stored transcript keeps the original text.
func RedactPII(input string) (string, bool) {
	out := input
	changed := false

	apply := func(re *regexp.Regexp, marker string) {
		next := re.ReplaceAllString(out, marker)
		if next != out {
			changed = true
			out = next
		}
	}

	apply(emailPattern, "[REDACTED_EMAIL]")
	// Cards before phones: a card number also matches the phone pattern.
	apply(cardPattern, "[REDACTED_CARD]")
	apply(phonePattern, "[REDACTED_PHONE]")

	return out, changed
}
