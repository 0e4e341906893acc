package xid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"
)

func New(prefix string) string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
	}
	return fmt.Sprintf("%s-%d-%s", prefix, time.Now().UnixNano(), hex.EncodeToString(buf))
}

// Invoice returns INV-<unix millis>-<3 random digits>.
func Invoice(at time.Time) string {
	n, err := rand.Int(rand.Reader, big.NewInt(1000))
	suffix := int64(at.Nanosecond() % 1000)
	if err == nil {
		suffix = n.Int64()
	}
	return fmt.Sprintf("INV-%d-%03d", at.UnixMilli(), suffix)
}
