// Package phone normalizes user-entered phone numbers into E.164 form.
package phone

import (
	"regexp"
	"sort"
	"strings"

	"github.com/go-phone-verify/internal/domain"
)

var e164 = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)

const (
	minFullLen = 10
	maxFullLen = 16
	// national significant numbers in the supported prefix set are at least this long
	minNationalDigits = 9
)

// KnownPrefixes lists the calling codes offered by default, used to split a
// stored full number back into prefix and local part.
var KnownPrefixes = []string{"+41", "+49", "+33", "+39", "+43", "+423", "+352", "+32", "+31", "+44", "+1"}

// Number is a normalized phone number.
type Number struct {
	Prefix string // "+41"
	Local  string // "791234567"
	Full   string // "+41791234567"
}

// Normalize cleans prefix and number and validates the concatenation.
// The number keeps digits only; leading zeros and a repeated country code are
// dropped. The result must match E.164 and be 10 to 16 characters long.
func Normalize(prefix, number string) (Number, error) {
	cc := digits(prefix)
	if cc == "" || cc[0] == '0' {
		return Number{}, domain.Invalid("phone_prefix", "prefix must be an international calling code")
	}

	raw := strings.TrimSpace(number)
	international := strings.HasPrefix(raw, "+") || strings.HasPrefix(raw, "00")
	local := digits(raw)
	if strings.HasPrefix(raw, "00") {
		local = strings.TrimPrefix(local, "00")
	}
	if international && !strings.HasPrefix(local, cc) {
		return Number{}, domain.Invalid("phone_number", "number belongs to a different country code than the selected prefix")
	}
	if strings.HasPrefix(local, cc) && (international || len(local) >= len(cc)+minNationalDigits) {
		local = local[len(cc):]
	}
	local = strings.TrimLeft(local, "0")
	if local == "" {
		return Number{}, domain.Invalid("phone_number", "phone number is required")
	}

	n := Number{Prefix: "+" + cc, Local: local, Full: "+" + cc + local}
	if err := ValidateFull(n.Full); err != nil {
		return Number{}, err
	}
	return n, nil
}

// ValidateFull checks an already concatenated number.
func ValidateFull(full string) error {
	if !e164.MatchString(full) {
		return domain.Invalid("phone_number", "invalid international phone number format")
	}
	if len(full) < minFullLen || len(full) > maxFullLen {
		return domain.Invalid("phone_number", "phone number must be between 10 and 16 characters including country code")
	}
	return nil
}

// Split breaks a full number into prefix and local digits using the longest
// matching known prefix. Unknown prefixes return an empty prefix.
func Split(full string) (prefix, local string) {
	full = strings.ReplaceAll(strings.TrimSpace(full), " ", "")
	if !strings.HasPrefix(full, "+") {
		return "", digits(full)
	}
	known := append([]string(nil), KnownPrefixes...)
	sort.Slice(known, func(i, j int) bool { return len(known[i]) > len(known[j]) })
	for _, p := range known {
		if strings.HasPrefix(full, p) {
			return p, full[len(p):]
		}
	}
	return "", digits(full)
}

func digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
