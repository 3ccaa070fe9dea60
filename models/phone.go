package models

import (
	"sort"
	"strings"
)

// PhoneNumberSeparator joins the participants of a conversation.
const PhoneNumberSeparator = ", "

// NormalizePhoneNumber strips formatting, keeping digits and a leading plus.
func NormalizePhoneNumber(number string) string {
	number = strings.TrimSpace(number)
	var b strings.Builder
	for i, r := range number {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		case r == '@' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
			// Email and short-code senders are kept verbatim.
			return number
		}
	}
	return b.String()
}

// NormalizePhoneNumbers turns a comma separated recipient list into the canonical,
// de-duplicated, sorted form used to match conversations.
func NormalizePhoneNumbers(list string) string {
	seen := make(map[string]struct{})
	out := make([]string, 0)
	for _, part := range strings.Split(list, ",") {
		number := NormalizePhoneNumber(part)
		if number == "" {
			continue
		}
		if _, ok := seen[number]; ok {
			continue
		}
		seen[number] = struct{}{}
		out = append(out, number)
	}
	sort.Strings(out)
	return strings.Join(out, PhoneNumberSeparator)
}
