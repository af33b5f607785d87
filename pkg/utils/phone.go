package utils

import (
	"regexp"
)

var (
	nonDigits     = regexp.MustCompile(`[^\d]`)
	mxCountryCode = regexp.MustCompile(`^(521|52)`)
)

// NormalizePhone strips everything but digits from a Mexican WhatsApp number,
// drops the 52/521 country prefix and keeps the last 10 digits. Prospect
// records and live wa_ids disagree on formatting; this collapses both sides.
func NormalizePhone(raw string) string {
	if raw == "" {
		return ""
	}
	phone := nonDigits.ReplaceAllString(raw, "")
	phone = mxCountryCode.ReplaceAllString(phone, "")
	if len(phone) >= 10 {
		return phone[len(phone)-10:]
	}
	return phone
}

// Last10 returns the normalized last-10-digit form used as the match key
// against the prospect sheet.
func Last10(phone string) string {
	return NormalizePhone(phone)
}
