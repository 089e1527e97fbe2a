package model

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"golang.org/x/text/unicode/norm"
)

// DomainMutation separates mutation digests from any other hash in the system.
const DomainMutation = "keyward/mutation/v1"

// MarshalCanonical produces RFC 8785 canonical JSON for a payload value.
// String contents are written exactly as given; this is the stored form of a
// mutation.
//
// Differences from json.Marshal:
//  1. Object keys sorted by UTF-16 code units
//  2. No HTML escaping
//  3. U+2028 and U+2029 emitted literally
func MarshalCanonical(v Value) ([]byte, error) {
	return marshalCanonical(v, false)
}

// marshalCanonical encodes v, NFC-normalizing keys and strings when nfc is
// set. Normalization is only for hashing.
func marshalCanonical(v Value, nfc bool) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeCanonical(&buf, v, nfc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeCanonical(buf *bytes.Buffer, v Value, nfc bool) error {
	switch val := v.(type) {
	case nil:
		return fmt.Errorf("null is forbidden in canonical JSON")
	case String:
		return writeCanonicalString(buf, string(val), nfc)
	case Int:
		fmt.Fprintf(buf, "%d", int64(val))
	case Bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case Array:
		buf.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, elem, nfc); err != nil {
				return fmt.Errorf("array[%d]: %w", i, err)
			}
		}
		buf.WriteByte(']')
	case Object:
		if nfc {
			normalized := make(Object, len(val))
			for k, elem := range val {
				nk := norm.NFC.String(k)
				if _, dup := normalized[nk]; dup {
					return fmt.Errorf("keys collide after NFC normalization: %q", nk)
				}
				normalized[nk] = elem
			}
			val = normalized
		}
		buf.WriteByte('{')
		for i, k := range val.SortedKeys() {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonicalString(buf, k, false); err != nil {
				return fmt.Errorf("key %q: %w", k, err)
			}
			buf.WriteByte(':')
			if err := writeCanonical(buf, val[k], nfc); err != nil {
				return fmt.Errorf("value for key %q: %w", k, err)
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("unsupported type for canonical JSON: %T", v)
	}
	return nil
}

// writeCanonicalString escapes only quote, backslash and control characters.
func writeCanonicalString(buf *bytes.Buffer, s string, nfc bool) error {
	if nfc {
		s = norm.NFC.String(s)
	}
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return err
	}
	out := bytes.TrimSuffix(tmp.Bytes(), []byte("\n"))

	// encoding/json always escapes U+2028/U+2029. A literal backslash in the
	// input is emitted as `\\`, so an escape is real only when preceded by an
	// even run of backslashes.
	for i := 0; i < len(out); i++ {
		if out[i] == '\\' && i+5 < len(out) && out[i+1] == 'u' &&
			string(out[i+2:i+5]) == "202" && (out[i+5] == '8' || out[i+5] == '9') {
			if out[i+5] == '8' {
				buf.WriteString("\u2028")
			} else {
				buf.WriteString("\u2029")
			}
			i += 5
			continue
		}
		if out[i] == '\\' && i+1 < len(out) {
			buf.WriteByte(out[i])
			buf.WriteByte(out[i+1])
			i++
			continue
		}
		buf.WriteByte(out[i])
	}
	return nil
}

// MutationDigest is a stable SHA-256 identity for a mutation payload, used to
// correlate approval requests with applied changes in audit logs. Keys and
// strings are NFC-normalized first, so composed and decomposed spellings of
// the same text share a digest.
// Format: hex(SHA256(domain || 0x00 || NFC canonical JSON)).
func MutationDigest(m Object) (string, error) {
	data, err := marshalCanonical(m, true)
	if err != nil {
		return "", fmt.Errorf("mutation digest: %w", err)
	}
	h := sha256.New()
	h.Write([]byte(DomainMutation))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil)), nil
}
