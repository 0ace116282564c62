package service

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	orderNumberPrefix      = "ORD-"
	orderNumberTimeLayout  = "20060102150405"
	maxOrderNumberAttempts = 3
	transactionIDPrefix    = "TXN-"
)

// newOrderNumber builds a shareable order number such as
// ORD-20240101120000-1A2B3C4D. Uniqueness is enforced by storage.
func newOrderNumber(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return orderNumberPrefix + now.UTC().Format(orderNumberTimeLayout) + "-" + suffix
}

func newTransactionID() string {
	return transactionIDPrefix + uuid.NewString()
}
