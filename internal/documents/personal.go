package documents

import (
	"strings"
	"time"

	domain "github.com/kapitalwerk/contract-api/internal/domain"
)

const displayDateLayout = "02.01.2006"

var isoDateLayouts = []string{"2006-01-02", time.RFC3339, time.RFC3339Nano}

// FormatDate renders an ISO date (or RFC 3339 timestamp) as DD.MM.YYYY. Values that do
// not parse are returned trimmed and otherwise unchanged.
func FormatDate(iso string) string {
	value := strings.TrimSpace(iso)
	if value == "" {
		return ""
	}
	for _, layout := range isoDateLayouts {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts.Format(displayDateLayout)
		}
	}
	return value
}

// FormatPlaceAndDate renders the signature line "<city>, DD.MM.YYYY".
func FormatPlaceAndDate(city string, at time.Time) string {
	date := at.Format(displayDateLayout)
	city = collapseSpaces(city)
	if city == "" {
		return date
	}
	return city + ", " + date
}

// FormatAddress renders "<street> <houseNumber>, <postalCode> <city>, <country>", skipping
// absent parts without leaving stray separators.
func FormatAddress(addr domain.PostalAddress) string {
	street, number := SplitStreet(addressPart(addr.Street), addressPart(addr.HouseNumber))
	groups := []string{
		joinNonEmpty(" ", street, number),
		joinNonEmpty(" ", addressPart(addr.PostalCode), addressPart(addr.City)),
		addressPart(addr.Country),
	}
	return joinNonEmpty(", ", groups...)
}

// SplitStreet separates the street name from its house number. Older records carry the
// number as the street's last whitespace-delimited token; that token is only recognised
// when it consists of digits. A separately stored number takes precedence, and a number
// present in both places is kept once.
func SplitStreet(street, houseNumber string) (string, string) {
	street = collapseSpaces(street)
	houseNumber = collapseSpaces(houseNumber)

	name, embedded := street, ""
	if idx := strings.LastIndex(street, " "); idx > 0 && isDigits(street[idx+1:]) {
		name, embedded = street[:idx], street[idx+1:]
	}

	switch {
	case houseNumber == "":
		return name, embedded
	case embedded == "" || embedded == houseNumber:
		return name, houseNumber
	default:
		// the trailing number belongs to the street name
		return street, houseNumber
	}
}

func isDigits(value string) bool {
	if value == "" {
		return false
	}
	for _, r := range value {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func joinNonEmpty(sep string, parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = collapseSpaces(part); part != "" {
			kept = append(kept, part)
		}
	}
	return strings.Join(kept, sep)
}

// addressPart drops separators users typed into a single component.
func addressPart(value string) string {
	return strings.Trim(collapseSpaces(value), ", ")
}

func collapseSpaces(value string) string {
	return strings.Join(strings.Fields(value), " ")
}
