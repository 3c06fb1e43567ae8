package model

import "strings"

var jidSuffixes = []string{"@c.us", "@s.whatsapp.net", "@g.us", "@lid"}

// NormalizePhone strips WhatsApp JID suffixes and every non-digit character.
func NormalizePhone(s string) string {
	for _, suf := range jidSuffixes {
		s = strings.ReplaceAll(s, suf, "")
	}
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// IsGroupJID reports whether a raw address names a group chat.
func IsGroupJID(s string) bool {
	return strings.HasSuffix(s, "@g.us")
}
