package keyfetcher

import (
	"crypto/rsa"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/golang-jwt/jwt/v5"
)

type PublicKeyFetcher interface {
	FetchPublicKey() (*rsa.PublicKey, error)
}

type PrivateKeyFetcher interface {
	FetchPrivateKey() (*rsa.PrivateKey, error)
}

// From is a type definition for a function that returns a byte slice and an error.
type From func() ([]byte, error)

// FetchPublicKey parses the loaded key as an RSA public key.
func (f From) FetchPublicKey() (*rsa.PublicKey, error) {
	keyBytes, err := f()
	if err != nil {
		return nil, err
	}

	return jwt.ParseRSAPublicKeyFromPEM(keyBytes)
}

// FetchPrivateKey parses the loaded key as an RSA private key.
func (f From) FetchPrivateKey() (*rsa.PrivateKey, error) {
	keyBytes, err := f()
	if err != nil {
		return nil, err
	}

	return jwt.ParseRSAPrivateKeyFromPEM(keyBytes)
}

// FromBase64 decodes a Base64 encoded PEM held in configuration.
func FromBase64(value string) From {
	return func() ([]byte, error) {
		if value == "" {
			return nil, errors.New("key is not found")
		}

		return base64.StdEncoding.DecodeString(value)
	}
}

// FromBase64Env receives an environment variable key as input,
// reads the Base64 encoded value from the specified environment variable, decodes it,
// and returns a From function.
func FromBase64Env(key string) From {
	return func() ([]byte, error) {
		return FromBase64(os.Getenv(key))()
	}
}

// FromFile reads a PEM file from path.
func FromFile(path string) From {
	return func() ([]byte, error) {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read key: %w", err)
		}
		return data, nil
	}
}

// CachedPublicKey parses the key once and serves it for every later call.
func CachedPublicKey(f PublicKeyFetcher) PublicKeyFetcher {
	return &cachedPublicKey{fetcher: f}
}

type cachedPublicKey struct {
	fetcher PublicKeyFetcher
	once    sync.Once
	key     *rsa.PublicKey
	err     error
}

func (c *cachedPublicKey) FetchPublicKey() (*rsa.PublicKey, error) {
	c.once.Do(func() {
		c.key, c.err = c.fetcher.FetchPublicKey()
	})
	return c.key, c.err
}
