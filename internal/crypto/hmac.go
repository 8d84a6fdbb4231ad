package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// loginSuffix is appended to the millisecond timestamp when signing a
// websocket login.
const loginSuffix = "websocket_login"

// HMACAuth holds the API credentials used for signed REST requests and the
// websocket login.
type HMACAuth struct {
	Key        string // API key
	Secret     string // API secret, used as raw HMAC key bytes
	Subaccount string // optional subaccount name
}

// LoginArgs is the argument object of a websocket login command.
type LoginArgs struct {
	Key        string `json:"key"`
	Sign       string `json:"sign"`
	Time       int64  `json:"time"`
	Subaccount string `json:"subaccount,omitempty"`
}

// RequestHeaders returns the HTTP headers for a signed REST request.
// The signature is hex(HMAC-SHA256(secret, ts+method+path+body)) with ts in
// Unix milliseconds.
//
// Returned header keys:
//   - FTX-KEY
//   - FTX-TS
//   - FTX-SIGN
//   - FTX-SUBACCOUNT (only when a subaccount is configured)
func (h *HMACAuth) RequestHeaders(method, path, body string) map[string]string {
	return h.RequestHeadersAt(method, path, body, time.Now().UnixMilli())
}

// RequestHeadersAt is like RequestHeaders but lets the caller supply the
// millisecond timestamp (useful for deterministic testing).
func (h *HMACAuth) RequestHeadersAt(method, path, body string, tsMillis int64) map[string]string {
	ts := strconv.FormatInt(tsMillis, 10)
	headers := map[string]string{
		"FTX-KEY":  h.Key,
		"FTX-TS":   ts,
		"FTX-SIGN": hmacSHA256Hex([]byte(h.Secret), ts+method+path+body),
	}
	if h.Subaccount != "" {
		headers["FTX-SUBACCOUNT"] = h.Subaccount
	}
	return headers
}

// Login returns freshly signed websocket login arguments.
func (h *HMACAuth) Login() LoginArgs {
	return h.LoginAt(time.Now().UnixMilli())
}

// LoginAt is like Login but lets the caller supply the millisecond
// timestamp.
func (h *HMACAuth) LoginAt(tsMillis int64) LoginArgs {
	return LoginArgs{
		Key:        h.Key,
		Sign:       h.LoginSignature(tsMillis),
		Time:       tsMillis,
		Subaccount: h.Subaccount,
	}
}

// LoginSignature signs "<tsMillis>websocket_login".
func (h *HMACAuth) LoginSignature(tsMillis int64) string {
	return hmacSHA256Hex([]byte(h.Secret), strconv.FormatInt(tsMillis, 10)+loginSuffix)
}

// hmacSHA256Hex computes HMAC-SHA256 of message using key and returns the
// lowercase hex digest.
func hmacSHA256Hex(key []byte, message string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

// String returns a redacted representation suitable for logging.
func (h *HMACAuth) String() string {
	redact := func(s string) string {
		if len(s) <= 4 {
			return "****"
		}
		return s[:4] + "****"
	}
	return fmt.Sprintf("HMACAuth{key=%s, secret=%s, subaccount=%q}", redact(h.Key), redact(h.Secret), h.Subaccount)
}
