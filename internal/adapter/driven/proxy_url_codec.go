package driven

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var (
	// ErrEncryptionDisabled indicates a token was requested or received but
	// no encryption key is configured.
	ErrEncryptionDisabled = errors.New("url encryption is not configured")
	// ErrInvalidToken indicates a token that cannot be decoded or was tampered with.
	ErrInvalidToken = errors.New("invalid proxy token")
)

const (
	destinationParam = "d"
	tokenParam       = "token"
	encryptedParam   = "has_encrypted"
)

// ProxyURLCodec builds proxy URLs carrying the destination and forwarded
// params, either as a readable query or as an AES-GCM sealed token.
type ProxyURLCodec struct {
	aead   cipher.AEAD
	macKey []byte
}

// NewProxyURLCodec creates a codec. An empty key disables tokens.
func NewProxyURLCodec(encryptionKey string) (*ProxyURLCodec, error) {
	if encryptionKey == "" {
		return &ProxyURLCodec{}, nil
	}

	key := sha256.Sum256([]byte(encryptionKey))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create gcm: %w", err)
	}

	macKey := sha256.Sum256([]byte("nonce:" + encryptionKey))
	return &ProxyURLCodec{aead: aead, macKey: macKey[:]}, nil
}

// EncryptionEnabled reports whether the codec can issue and read tokens.
func (c *ProxyURLCodec) EncryptionEnabled() bool {
	return c.aead != nil
}

// Encode implements ProxyURLEncoder. The nonce is derived from the plaintext,
// so equal inputs produce equal tokens.
func (c *ProxyURLCodec) Encode(proxyBase, destination string, params url.Values, encrypt bool) (string, error) {
	q := make(url.Values, len(params)+1)
	for k, v := range params {
		q[k] = append([]string(nil), v...)
	}
	q.Set(destinationParam, destination)

	if !encrypt {
		return joinQuery(proxyBase, q.Encode()), nil
	}
	if c.aead == nil {
		return "", ErrEncryptionDisabled
	}

	plaintext := []byte(q.Encode())
	mac := hmac.New(sha256.New, c.macKey)
	mac.Write(plaintext)
	nonce := mac.Sum(nil)[:c.aead.NonceSize()]

	sealed := c.aead.Seal(append([]byte(nil), nonce...), nonce, plaintext, nil)
	token := url.Values{tokenParam: {base64.RawURLEncoding.EncodeToString(sealed)}}
	return joinQuery(proxyBase, token.Encode()), nil
}

// Decode expands a token query into the params it was built from and marks
// the result with has_encrypted so nested URLs are issued as tokens again.
// Queries without a token are returned as a copy.
func (c *ProxyURLCodec) Decode(query url.Values) (url.Values, error) {
	out := make(url.Values, len(query))
	token := query.Get(tokenParam)
	if token == "" {
		for k, v := range query {
			out[k] = append([]string(nil), v...)
		}
		return out, nil
	}
	if c.aead == nil {
		return nil, ErrEncryptionDisabled
	}

	sealed, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	nonceSize := c.aead.NonceSize()
	if len(sealed) < nonceSize {
		return nil, ErrInvalidToken
	}
	plaintext, err := c.aead.Open(nil, sealed[:nonceSize], sealed[nonceSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	decoded, err := url.ParseQuery(string(plaintext))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	for k, v := range decoded {
		out[k] = v
	}
	// Params added next to the token by the player do not override sealed ones
	for k, v := range query {
		if k == tokenParam || out.Has(k) {
			continue
		}
		out[k] = append([]string(nil), v...)
	}
	out.Set(encryptedParam, "1")
	return out, nil
}

func joinQuery(base, rawQuery string) string {
	if strings.Contains(base, "?") {
		return base + "&" + rawQuery
	}
	return base + "?" + rawQuery
}
