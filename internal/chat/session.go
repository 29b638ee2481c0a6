package chat

import (
	"crypto/rand"
	"math/big"
	"strconv"
	"strings"
	"time"
)

const (
	base36      = "0123456789abcdefghijklmnopqrstuvwxyz"
	suffixChars = 8
)

// NewSessionID mints an id for a conversation that arrived without one:
// the base36 UnixNano timestamp followed by 8 random base36 characters.
// Ids correlate turns; they are not credentials.
func NewSessionID() string {
	return newSessionID(time.Now())
}

func newSessionID(now time.Time) string {
	var b strings.Builder
	b.WriteString(strconv.FormatInt(now.UnixNano(), 36))
	n36 := big.NewInt(int64(len(base36)))
	for range suffixChars {
		n, err := rand.Int(rand.Reader, n36)
		if err != nil {
			// crypto/rand does not fail on supported platforms.
			panic(err)
		}
		b.WriteByte(base36[n.Int64()])
	}
	return b.String()
}
