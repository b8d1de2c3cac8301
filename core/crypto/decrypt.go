// Package crypto implements the API source's chapter envelope decryption:
// key extraction from the content string, AES-128-CBC decrypt, HMAC-SHA256
// MAC verification, and the title-dedup rule applied to the decrypted body.
//
// No third-party cryptographic library is used here. Go's standard
// crypto/aes, crypto/cipher, and crypto/hmac are themselves the idiomatic,
// ecosystem-standard way to perform AES-CBC and HMAC — reaching for a
// third-party package would add a dependency without adding capability.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"strings"

	bverrors "github.com/FocuswithJustin/bookvault/core/errors"
)

const keyLen = 16

// envelope is the JSON payload recovered after stripping the injected key
// and base64-decoding the content string.
type envelope struct {
	IV    string `json:"iv"`
	Value string `json:"value"`
	MAC   string `json:"mac"`
}

// Decrypt extracts the AES-128 key from content, decodes and decrypts the
// envelope, strips PKCS#7 padding, and trims surrounding whitespace. When
// verifyMAC is true, a MAC mismatch is a failure; otherwise the MAC is
// ignored (the spec marks verification as optional but recommended).
func Decrypt(content string, verifyMAC bool) (string, error) {
	runes := []rune(content)
	if len(runes) < 33 {
		return "", bverrors.NewParse("api-envelope", "", "content too short")
	}

	keyChars := string(runes[17:33])
	key := keyBytes(keyChars)

	withoutKey := removeFirst(content, keyChars)

	decoded, err := base64DecodePadded(withoutKey)
	if err != nil {
		return "", bverrors.NewParse("api-envelope", "", "bad base64: "+err.Error())
	}

	var env envelope
	if err := json.Unmarshal(decoded, &env); err != nil {
		return "", bverrors.NewParse("api-envelope", "", "bad envelope json: "+err.Error())
	}
	if env.IV == "" || env.Value == "" {
		return "", bverrors.NewParse("api-envelope", "", "missing envelope field")
	}

	if verifyMAC && env.MAC != "" {
		if !verifyHMAC(key, env.IV, env.Value, env.MAC) {
			return "", bverrors.NewParse("api-envelope", "", "mac mismatch")
		}
	}

	iv, err := base64.StdEncoding.DecodeString(env.IV)
	if err != nil || len(iv) != aes.BlockSize {
		return "", bverrors.NewParse("api-envelope", "", "bad iv")
	}
	ciphertext, err := base64.StdEncoding.DecodeString(env.Value)
	if err != nil {
		return "", bverrors.NewParse("api-envelope", "", "bad ciphertext base64")
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return "", bverrors.NewParse("api-envelope", "", "misaligned ciphertext")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", bverrors.Wrap(err, "crypto: build aes cipher")
	}
	plain := make([]byte, len(ciphertext))
	cbc := cipher.NewCBCDecrypter(block, iv)
	cbc.CryptBlocks(plain, ciphertext)

	unpadded, err := stripPKCS7(plain)
	if err != nil {
		return "", bverrors.NewParse("api-envelope", "", "bad padding")
	}

	return strings.TrimSpace(string(unpadded)), nil
}

// keyBytes takes each of the 16 injected key characters' code point mod 256
// as a raw byte. Code points ≥ 256 silently truncate — this mirrors the
// upstream's own (possibly buggy) behavior and is preserved deliberately.
func keyBytes(s string) []byte {
	runes := []rune(s)
	key := make([]byte, keyLen)
	for i := 0; i < keyLen; i++ {
		if i < len(runes) {
			key[i] = byte(runes[i] % 256)
		}
	}
	return key
}

// removeFirst deletes exactly one occurrence of substr from s.
func removeFirst(s, substr string) string {
	i := strings.Index(s, substr)
	if i < 0 {
		return s
	}
	return s[:i] + s[i+len(substr):]
}

// base64DecodePadded pads s to a multiple of 4 characters before decoding,
// tolerating upstream responses that omit trailing '='.
func base64DecodePadded(s string) ([]byte, error) {
	if rem := len(s) % 4; rem != 0 {
		s += strings.Repeat("=", 4-rem)
	}
	return base64.StdEncoding.DecodeString(s)
}

func verifyHMAC(key []byte, ivB64, valueB64, macHex string) bool {
	expected, err := hex.DecodeString(macHex)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(ivB64 + valueB64))
	return hmac.Equal(mac.Sum(nil), expected)
}

func stripPKCS7(data []byte) ([]byte, error) {
	if len(data) == 0 || len(data)%aes.BlockSize != 0 {
		return nil, bverrors.ErrInvalidInput
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > aes.BlockSize || padLen > len(data) {
		return nil, bverrors.ErrInvalidInput
	}
	for _, b := range data[len(data)-padLen:] {
		if int(b) != padLen {
			return nil, bverrors.ErrInvalidInput
		}
	}
	return data[:len(data)-padLen], nil
}

// DedupTitle drops the body's first non-blank line when it equals the
// API's authoritative chapter name (including any leading blank lines up
// to and including it), so the body starts with real content.
func DedupTitle(body, apiName string) string {
	lines := strings.Split(body, "\n")
	firstNonBlank := -1
	for i, l := range lines {
		if strings.TrimSpace(l) != "" {
			firstNonBlank = i
			break
		}
	}
	if firstNonBlank < 0 {
		return body
	}
	if strings.TrimSpace(lines[firstNonBlank]) != strings.TrimSpace(apiName) {
		return body
	}
	remainder := lines[firstNonBlank+1:]
	return strings.TrimLeft(strings.Join(remainder, "\n"), "\n")
}
