package mpesa

import (
	"encoding/base64"
	"time"
)

// timestampLayout is the gateway's compact form: YYYYMMDDHHmmss, second
// granularity, no separators.
const timestampLayout = "20060102150405"

// Timestamp formats t in the gateway's compact numeric form.
func Timestamp(t time.Time) string {
	return t.Format(timestampLayout)
}

// Password derives the request password: base64(shortcode + passkey + timestamp).
// The timestamp changes every call, so the result must be recomputed per
// request and never cached.
func Password(shortcode, passkey, timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(shortcode + passkey + timestamp))
}
