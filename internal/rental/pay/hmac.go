package pay

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"hash"
)

// SignHMAC returns the hex HMAC of data.
func SignHMAC(newHash func() hash.Hash, data, secret string) string {
	mac := hmac.New(newHash, []byte(secret))
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyHMAC validates a hex signature in constant time. Hex case is ignored.
func VerifyHMAC(newHash func() hash.Hash, data, signature, secret string) bool {
	mac := hmac.New(newHash, []byte(secret))
	mac.Write([]byte(data))
	expected := mac.Sum(nil)

	sigBytes, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	return hmac.Equal(expected, sigBytes)
}

// SHA256 and SHA512 are the hash constructors used by the providers.
var (
	SHA256 = sha256.New
	SHA512 = sha512.New
)
