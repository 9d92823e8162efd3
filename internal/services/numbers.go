package services

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
	"time"
)

// referenceNumber builds the human-facing identifiers used across the system:
// ORD-<yyyymmddhhmmss>-<6 hex>, TXN-...-<8 hex>, INV-...-<4 hex>.
func referenceNumber(prefix string, now time.Time, hexLen int) string {
	buf := make([]byte, (hexLen+1)/2)
	if _, err := rand.Read(buf); err != nil {
		// Fall back to the clock; uniqueness still holds per second plus suffix.
		for i := range buf {
			buf[i] = byte(now.UnixNano() >> (8 * i))
		}
	}
	random := strings.ToUpper(hex.EncodeToString(buf))[:hexLen]
	return prefix + "-" + now.Format("20060102150405") + "-" + random
}

func newOrderNumber(now time.Time) string {
	return referenceNumber("ORD", now, 6)
}

func newTransactionNumber(now time.Time) string {
	return referenceNumber("TXN", now, 8)
}

func newInvoiceNumber(now time.Time) string {
	return referenceNumber("INV", now, 4)
}
