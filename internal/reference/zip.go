package reference

import "strings"

// SplitZip4 accepts a 5 digit ZIP or a 9 digit ZIP+4 with or without the
// dash and returns its parts.
func SplitZip4(s string) (zip5, last4 string, ok bool) {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '-'); i >= 0 {
		if i != 5 || len(s) != 10 {
			return "", "", false
		}
		s = s[:5] + s[6:]
	}
	if !digits(s) {
		return "", "", false
	}
	switch len(s) {
	case 5:
		return s, "", true
	case 9:
		return s[:5], s[5:], true
	}
	return "", "", false
}

func digits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
