// Package sanitize scrubs PII and URLs from user content before it leaves
// the process. Every string that reaches a prompt template must pass through
// Scrub first.
package sanitize

import "regexp"

var (
	emailRe = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	urlRe   = regexp.MustCompile(`https?://[^\s)\]}>"']+|www\.[^\s)\]}>"']+`)
	phoneRe = regexp.MustCompile(`\+?\d{1,3}[\s.\-]?\(?\d{2,4}\)?[\s.\-]?\d{3,4}[\s.\-]?\d{3,4}`)
	ipRe    = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)
)

// Result reports what was removed from a string.
type Result struct {
	Text          string
	EmailsRemoved int
	URLsRemoved   int
	PhonesRemoved int
	IPsRemoved    int
}

// Removed is the total count of scrubbed items.
func (r Result) Removed() int {
	return r.EmailsRemoved + r.URLsRemoved + r.PhonesRemoved + r.IPsRemoved
}

// Scrub replaces PII and URLs with stable placeholder tokens.
// Order matters: emails before phone numbers, since the phone pattern can
// match digit runs inside addresses.
func Scrub(text string) Result {
	r := Result{}

	r.Text = emailRe.ReplaceAllStringFunc(text, func(string) string {
		r.EmailsRemoved++
		return "[EMAIL]"
	})
	r.Text = urlRe.ReplaceAllStringFunc(r.Text, func(string) string {
		r.URLsRemoved++
		return "[URL]"
	})
	r.Text = ipRe.ReplaceAllStringFunc(r.Text, func(string) string {
		r.IPsRemoved++
		return "[IP]"
	})
	r.Text = phoneRe.ReplaceAllStringFunc(r.Text, func(m string) string {
		// Digit runs shorter than 7 are more likely scores or years.
		digits := 0
		for _, c := range m {
			if c >= '0' && c <= '9' {
				digits++
			}
		}
		if digits < 7 {
			return m
		}
		r.PhonesRemoved++
		return "[PHONE]"
	})
	return r
}

// Text is a convenience wrapper returning only the scrubbed string.
func Text(s string) string { return Scrub(s).Text }
