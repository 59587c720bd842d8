package events

import (
	"strconv"

	"aprvault/crypto"
)

func formatAmount(v uint64) string {
	return strconv.FormatUint(v, 10)
}

func formatTime(ts int64) string {
	return strconv.FormatInt(ts, 10)
}

func formatAddress(addr crypto.Address) string {
	return addr.String()
}
