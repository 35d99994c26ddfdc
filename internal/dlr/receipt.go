package dlr

import (
	"strings"

	"github.com/mantecinfox/smpp-gateway/pkg/codes"
)

// Receipt is a parsed delivery-receipt payload. Fields holds every
// key:value token, known or not; the accessors pull out the common ones.
//
// The wire format is whitespace-separated tokens, e.g.:
//
//	id:0123 sub:001 dlvrd:001 submit date:2601010000 done date:2601010001 stat:DELIVRD err:000
type Receipt struct {
	Fields map[string]string
}

// ParseReceipt splits a receipt body into key:value tokens. Tokens without
// a colon are ignored; unknown keys are preserved, not rejected.
func ParseReceipt(body string) Receipt {
	fields := make(map[string]string)
	for _, part := range strings.Fields(body) {
		key, value, ok := strings.Cut(part, ":")
		if !ok {
			continue
		}
		fields[key] = value
	}
	return Receipt{Fields: fields}
}

// ID returns the provider-assigned message identifier, if present.
func (r Receipt) ID() string {
	return r.Fields["id"]
}

// Stat returns the raw status token, if present.
func (r Receipt) Stat() string {
	return r.Fields["stat"]
}

// MapStatus maps a receipt status token onto the message lifecycle.
// DELIVRD means delivered; the explicit failure codes mean failed;
// everything else, including unknown tokens, stays pending.
func MapStatus(stat string) string {
	switch stat {
	case codes.DLRStatDelivered:
		return codes.MsgStatusDelivered
	case codes.DLRStatExpired, codes.DLRStatDeleted, codes.DLRStatUndelivered, codes.DLRStatRejected:
		return codes.MsgStatusFailed
	default:
		return codes.MsgStatusPending
	}
}
