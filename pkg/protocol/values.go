package protocol

import (
	"strconv"
	"strings"
	"time"
)

// Response codes (field 39)
const (
	ResponseApproved    = "00"
	ResponseDoNotHonour = "05"
)

// transmissionLayout is the MMDDhhmmss layout of field 7
const transmissionLayout = "0102150405"

// ResponseMTI returns the response MTI for a request MTI (0200 -> 0210).
// MTIs that are already responses are returned unchanged.
func ResponseMTI(mti string) string {
	if !validMTI(mti) {
		return mti
	}
	function := mti[2] - '0'
	if function%2 == 1 {
		return mti
	}
	return mti[:2] + string('0'+function+1) + mti[3:]
}

// IsNetworkManagement reports whether the MTI is in the 08xx class
func IsNetworkManagement(mti string) bool {
	return len(mti) == MTILength && mti[1] == '8'
}

// ExtractPAN returns the account number preceding the track-2 separator
// ('D', or '=' on some acquirers). It returns "" when no separator follows a
// non-empty account number.
func ExtractPAN(track2 string) string {
	if i := strings.IndexByte(track2, 'D'); i > 0 {
		return track2[:i]
	}
	if i := strings.IndexByte(track2, '='); i > 0 {
		return track2[:i]
	}
	return ""
}

// ParseTransmissionTime interprets field 7 (MMDDhhmmss, UTC) in the year of
// now. Missing or malformed components fall back to the matching component
// of now; a value that is not 10 characters yields now.
func ParseTransmissionTime(de7 string, now time.Time) time.Time {
	now = now.UTC()
	if len(de7) != 10 {
		return now
	}
	part := func(i, lo, hi, fallback int) int {
		v, err := strconv.Atoi(de7[i : i+2])
		if err != nil || v < lo || v > hi {
			return fallback
		}
		return v
	}
	month := part(0, 1, 12, int(now.Month()))
	day := part(2, 1, 31, now.Day())
	hour := part(4, 0, 23, now.Hour())
	minute := part(6, 0, 59, now.Minute())
	second := part(8, 0, 59, now.Second())
	return time.Date(now.Year(), time.Month(month), day, hour, minute, second, 0, time.UTC)
}

// FormatTransmissionTime formats t as field 7 in UTC
func FormatTransmissionTime(t time.Time) string {
	return t.UTC().Format(transmissionLayout)
}

// ParseAmountMinor parses field 4 (minor units). Non-numeric input yields 0.
func ParseAmountMinor(de4 string) int64 {
	if de4 == "" || invalidByte(CharsetNumeric, de4) >= 0 {
		return 0
	}
	v, err := strconv.ParseInt(de4, 10, 64)
	if err != nil {
		return 0
	}
	return v
}

var currencyAlpha = map[string]string{
	"710": "ZAR",
	"404": "KES",
	"840": "USD",
	"978": "EUR",
	"826": "GBP",
	"072": "BWP",
	"516": "NAD",
}

// CurrencyAlpha maps an ISO 4217 numeric code to its alpha-3 code. Unknown
// codes are returned trimmed but otherwise unchanged.
func CurrencyAlpha(numeric string) string {
	numeric = strings.TrimSpace(numeric)
	if alpha, ok := currencyAlpha[numeric]; ok {
		return alpha
	}
	return numeric
}
