// Package auth signs ledger API requests with RSA-PSS.
package auth

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Header names set on signed requests.
const (
	HeaderKey       = "LEDGER-ACCESS-KEY"
	HeaderTimestamp = "LEDGER-ACCESS-TIMESTAMP"
	HeaderSignature = "LEDGER-ACCESS-SIGNATURE"
)

// Credentials holds the key ID and private key for signing requests.
type Credentials struct {
	KeyID      string          // key ID registered with the ledger
	PrivateKey *rsa.PrivateKey // RSA private key for signing
}

// LoadCredentials loads credentials from key ID and private key file path.
func LoadCredentials(keyID, privateKeyPath string) (*Credentials, error) {
	if keyID == "" {
		return nil, fmt.Errorf("key ID is required")
	}
	if privateKeyPath == "" {
		return nil, fmt.Errorf("private key path is required")
	}

	privateKey, err := LoadPrivateKey(privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("load private key: %w", err)
	}

	return &Credentials{
		KeyID:      keyID,
		PrivateKey: privateKey,
	}, nil
}

// LoadPrivateKey loads an RSA private key from a PEM file.
func LoadPrivateKey(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block")
	}

	// Try PKCS#8 first (newer format)
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err == nil {
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("key is not an RSA private key")
		}
		return rsaKey, nil
	}

	// Fall back to PKCS#1 (older format)
	rsaKey, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	return rsaKey, nil
}

// SignRequest generates authentication headers for a ledger request.
// path is the URL path without query string.
func (c *Credentials) SignRequest(method, path string) (map[string]string, error) {
	return c.signAt(time.Now(), method, path)
}

func (c *Credentials) signAt(now time.Time, method, path string) (map[string]string, error) {
	timestampMs := now.UnixMilli()

	signature, err := c.generateSignature(timestampMs, method, path)
	if err != nil {
		return nil, err
	}

	return map[string]string{
		HeaderKey:       c.KeyID,
		HeaderTimestamp: strconv.FormatInt(timestampMs, 10),
		HeaderSignature: signature,
	}, nil
}

// Message format: timestamp_ms + method + path
func (c *Credentials) generateSignature(timestampMs int64, method, path string) (string, error) {
	hashed := sha256.Sum256([]byte(signingMessage(timestampMs, method, path)))

	signature, err := rsa.SignPSS(
		rand.Reader,
		c.PrivateKey,
		crypto.SHA256,
		hashed[:],
		&rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash},
	)
	if err != nil {
		return "", fmt.Errorf("sign message: %w", err)
	}

	return base64.StdEncoding.EncodeToString(signature), nil
}

// Verify checks headers produced by SignRequest against pub.
func Verify(pub *rsa.PublicKey, headers map[string]string, method, path string) error {
	timestampMs, err := strconv.ParseInt(headers[HeaderTimestamp], 10, 64)
	if err != nil {
		return fmt.Errorf("parse timestamp: %w", err)
	}
	signature, err := base64.StdEncoding.DecodeString(headers[HeaderSignature])
	if err != nil {
		return fmt.Errorf("decode signature: %w", err)
	}

	hashed := sha256.Sum256([]byte(signingMessage(timestampMs, method, path)))
	if err := rsa.VerifyPSS(pub, crypto.SHA256, hashed[:], signature, &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash}); err != nil {
		return fmt.Errorf("verify signature: %w", err)
	}
	return nil
}

func signingMessage(timestampMs int64, method, path string) string {
	return strconv.FormatInt(timestampMs, 10) + method + path
}
