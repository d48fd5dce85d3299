package booking

import (
	"crypto/rand"
	"math/big"
	"time"
)

// no 0/O, 1/I/L
const numberAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// NewNumber returns a human readable booking number, BK-YYYYMMDD-XXXXX.
func NewNumber(now time.Time) string {
	suffix := make([]byte, 5)
	base := big.NewInt(int64(len(numberAlphabet)))
	for i := range suffix {
		n, err := rand.Int(rand.Reader, base)
		if err != nil {
			// crypto/rand does not fail on supported platforms
			panic(err)
		}
		suffix[i] = numberAlphabet[n.Int64()]
	}
	return "BK-" + now.UTC().Format("20060102") + "-" + string(suffix)
}
