package util

import "fmt"

// FormatDateWithSuffix renders a date like "1st Sep 2026", used in
// notification subjects.
func FormatDateWithSuffix(day int, month string, year int) string {
	return fmt.Sprintf("%d%s %s %d", day, ordinalSuffix(day), month, year)
}

func ordinalSuffix(day int) string {
	if day >= 11 && day <= 13 {
		return "th"
	}
	switch day % 10 {
	case 1:
		return "st"
	case 2:
		return "nd"
	case 3:
		return "rd"
	default:
		return "th"
	}
}
