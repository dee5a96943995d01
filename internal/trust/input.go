package trust

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"

	"github.com/sells-group/phonetrust/internal/model"
)

// Input limits.
const (
	MaxImageBytes = 10 << 20
	MaxMessages   = 20000
	maxUserIDLen  = 128

	// imageHashPrefix is how many leading image bytes feed the audit hash.
	imageHashPrefix = 1000
)

// NormalizePhone strips separators from a phone number, keeping a leading
// plus sign. The result must hold 8 to 15 digits.
func NormalizePhone(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	var b strings.Builder
	digits := 0
	for i, r := range raw {
		switch {
		case r == '+' && i == 0:
			b.WriteRune(r)
		case unicode.IsDigit(r):
			b.WriteRune(r)
			digits++
		case r == ' ' || r == '-' || r == '.' || r == '(' || r == ')':
		default:
			return "", invalidf("trust: phone %q contains %q", raw, r)
		}
	}
	if digits < 8 || digits > 15 {
		return "", invalidf("trust: phone %q must have 8 to 15 digits", raw)
	}
	return b.String(), nil
}

func validateKey(phone, userID string) (string, string, error) {
	p, err := NormalizePhone(phone)
	if err != nil {
		return "", "", err
	}
	u := strings.TrimSpace(userID)
	if u == "" {
		return "", "", invalidf("trust: user id is required")
	}
	if len(u) > maxUserIDLen {
		return "", "", invalidf("trust: user id longer than %d bytes", maxUserIDLen)
	}
	return p, u, nil
}

func validateImage(image []byte) error {
	if len(image) == 0 {
		return invalidf("trust: screenshot is empty")
	}
	if len(image) > MaxImageBytes {
		return invalidf("trust: screenshot is %d bytes, limit %d", len(image), MaxImageBytes)
	}
	return nil
}

func validateMessages(messages []model.SMSMessage) error {
	if len(messages) > MaxMessages {
		return invalidf("trust: %d messages exceeds limit %d", len(messages), MaxMessages)
	}
	for i, m := range messages {
		if m.Date.IsZero() {
			return invalidf("trust: message %d (%s) has no date", i, m.ID)
		}
	}
	return nil
}

// ImageHash returns the SHA-256 of the first 1000 bytes of an image. It
// identifies duplicate uploads without retaining the image.
func ImageHash(image []byte) string {
	sum := sha256.Sum256(image[:min(len(image), imageHashPrefix)])
	return hex.EncodeToString(sum[:])
}

// MaskPhone keeps the last four digits for logging.
func MaskPhone(phone string) string {
	if len(phone) <= 4 {
		return strings.Repeat("*", len(phone))
	}
	return strings.Repeat("*", len(phone)-4) + phone[len(phone)-4:]
}

// samePhone compares the trailing eight digits so that local and
// international forms of one number agree.
func samePhone(a, b string) bool {
	da, db := digitsOnly(a), digitsOnly(b)
	n := min(8, len(da), len(db))
	if n == 0 {
		return false
	}
	return da[len(da)-n:] == db[len(db)-n:]
}

func digitsOnly(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
}
