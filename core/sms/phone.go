package sms

import "strings"

const countryCode = "880"

// NormalizePhone converts a Bangladeshi phone number to its canonical 880XXXXXXXXXX form.
// Numbers that match no known local form are returned as bare digits.
func NormalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	p := b.String()

	switch {
	case len(p) == 13 && strings.HasPrefix(p, countryCode):
		return p
	case len(p) == 11 && strings.HasPrefix(p, "0"):
		return "88" + p
	case len(p) == 10 && strings.HasPrefix(p, "1"):
		return countryCode + p
	case strings.HasPrefix(p, countryCode):
		if len(p) > 13 {
			return p[:13]
		}
		return p
	}
	return p
}

// partition splits recipients into consecutive batches of at most size.
func partition(recipients []Recipient, size int) []Batch {
	if size <= 0 {
		size = len(recipients)
	}
	batches := make([]Batch, 0, (len(recipients)+size-1)/size)
	for i := 0; i < len(recipients); i += size {
		end := i + size
		if end > len(recipients) {
			end = len(recipients)
		}
		chunk := recipients[i:end]
		phones := make([]string, 0, len(chunk))
		for _, r := range chunk {
			phones = append(phones, NormalizePhone(r.Phone))
		}
		batches = append(batches, Batch{Index: len(batches), Recipients: chunk, Phones: phones})
	}
	return batches
}
