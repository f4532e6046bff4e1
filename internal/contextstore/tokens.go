package contextstore

import (
	"math"
	"unicode"

	"github.com/sonatahq/sonata/pkg/models"
)

// TokenCost computes the deterministic token cost of a message:
//
//	round(0.5 * (len(content)/3 + whitespaceCount + specialCharCount + len(role)))
//
// where len(content)/3 is a float division over the character count,
// whitespace is counted per Unicode space character, and special
// characters are anything neither alphanumeric nor whitespace. Consumers
// assert exact counts against this formula, so it must not be approximated
// or "improved".
func TokenCost(role models.Role, content string) int {
	var whitespace, special, length int
	for _, r := range content {
		length++
		switch {
		case unicode.IsSpace(r):
			whitespace++
		case !unicode.IsLetter(r) && !unicode.IsDigit(r):
			special++
		}
	}

	raw := float64(length)/3 + float64(whitespace) + float64(special) + float64(len(role))
	return int(math.Round(raw * 0.5))
}
