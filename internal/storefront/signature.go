package storefront

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/smallbiznis/purchaseledger/internal/storefront/domain"
)

const SignatureHeader = "X-Storefront-Signature"

// VerifySignature checks a "t=<unix>,v1=<hex hmac>" header against payload.
// The signed content is "<t>.<payload>" keyed with secret.
func VerifySignature(secret string, payload []byte, header string) error {
	header = strings.TrimSpace(header)
	if secret == "" || header == "" {
		return domain.ErrInvalidSignature
	}

	ts, signatures, ok := parseSignature(header)
	if !ok {
		return domain.ErrInvalidSignature
	}

	expected := sign(secret, ts, payload)
	for _, signature := range signatures {
		if hmac.Equal([]byte(signature), []byte(expected)) {
			return nil
		}
	}
	return domain.ErrInvalidSignature
}

// SignatureFor builds a header value for payload signed at ts.
func SignatureFor(secret string, ts time.Time, payload []byte) string {
	t := strconv.FormatInt(ts.Unix(), 10)
	return fmt.Sprintf("t=%s,v1=%s", t, sign(secret, t, payload))
}

func sign(secret, ts string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(ts))
	_, _ = mac.Write([]byte("."))
	_, _ = mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func parseSignature(header string) (string, []string, bool) {
	var ts string
	signatures := []string{}
	for _, part := range strings.Split(header, ",") {
		keyValue := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(keyValue) != 2 {
			continue
		}
		key := strings.TrimSpace(keyValue[0])
		value := strings.TrimSpace(keyValue[1])
		switch key {
		case "t":
			ts = value
		case "v1":
			signatures = append(signatures, value)
		}
	}
	if ts == "" || len(signatures) == 0 {
		return "", nil, false
	}
	return ts, signatures, true
}
