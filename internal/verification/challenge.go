package verification

import (
	"crypto/rand"
	"regexp"
	"strings"
)

const challengeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz23456789!#$%&*+=?@"

var namePattern = regexp.MustCompile(`^[A-Za-z]{1,10}$`)

// ValidName reports whether s is an acceptable account name.
func ValidName(s string) bool {
	return namePattern.MatchString(strings.TrimSpace(s))
}

// NewChallengeCode returns n characters drawn uniformly from the challenge alphabet.
func NewChallengeCode(n int) string {
	if n <= 0 {
		n = 8
	}
	out := make([]byte, n)
	buf := make([]byte, 1)
	limit := byte(256 - 256%len(challengeAlphabet))
	for i := 0; i < n; {
		if _, err := rand.Read(buf); err != nil {
			panic("crypto/rand: " + err.Error())
		}
		if buf[0] >= limit {
			continue
		}
		out[i] = challengeAlphabet[int(buf[0])%len(challengeAlphabet)]
		i++
	}
	return string(out)
}

func isCancelText(s string) bool {
	return strings.EqualFold(strings.TrimSpace(s), "cancel")
}
