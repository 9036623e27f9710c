package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// Sign produces the ePay request signature: base64(HMAC-SHA256) over the
// signed fields in their documented order.
func Sign(secretKey, totalAmount, transactionUUID, productCode string) (string, error) {
	if secretKey == "" {
		return "", fmt.Errorf("empty secret key")
	}
	message := fmt.Sprintf("total_amount=%s,transaction_uuid=%s,product_code=%s",
		totalAmount, transactionUUID, productCode)

	mac := hmac.New(sha256.New, []byte(secretKey))
	if _, err := mac.Write([]byte(message)); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

// VerifySignature checks a signature received from the gateway side against
// the same signed-field message.
func VerifySignature(secretKey, totalAmount, transactionUUID, productCode, signature string) bool {
	expected, err := Sign(secretKey, totalAmount, transactionUUID, productCode)
	if err != nil {
		return false
	}
	return hmac.Equal([]byte(expected), []byte(signature))
}
