package sealer

import (
	"encoding/base64"
	"fmt"
	"os"
	"strings"
)

// EncodeKey renders a key as standard base64.
func EncodeKey(key []byte) string {
	return base64.StdEncoding.EncodeToString(key)
}

// DecodeKey parses a base64 key and checks its length.
func DecodeKey(s string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("sealer: decode key: %w", err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("sealer: key must be %d bytes, got %d", KeySize, len(key))
	}
	return key, nil
}

// ReadKeyFile reads a base64 key from path.
func ReadKeyFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("sealer: read key file: %w", err)
	}
	return DecodeKey(string(data))
}

// WriteKeyFile writes key as base64 to path, readable by the owner only.
func WriteKeyFile(path string, key []byte) error {
	if err := os.WriteFile(path, []byte(EncodeKey(key)+"\n"), 0o600); err != nil {
		return fmt.Errorf("sealer: write key file: %w", err)
	}
	return nil
}
