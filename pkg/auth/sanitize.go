package auth

import "strings"

// Sanitize replaces whitespace and non-printable bytes in a subject string
// with underscores, so downstream logging and bucket keys never have to
// worry about an adversarial hostname or username embedding control
// characters.
func Sanitize(subject string) string {
	var b strings.Builder
	b.Grow(len(subject))
	for i := 0; i < len(subject); i++ {
		c := subject[i]
		if c <= 0x20 || c >= 0x7f {
			b.WriteByte('_')
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}
