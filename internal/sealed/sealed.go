// Package sealed encrypts invoice payloads at rest with age X25519 recipients.
// Ciphertext is base64-encoded so it fits a TEXT column.
package sealed

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"filippo.io/age"
)

// Sealer encrypts to a fixed recipient set.
type Sealer struct {
	recipients []age.Recipient
}

// New parses age1... public keys. At least one is required.
func New(recipientKeys []string) (*Sealer, error) {
	if len(recipientKeys) == 0 {
		return nil, errors.New("at least one recipient is required")
	}
	s := &Sealer{}
	for _, key := range recipientKeys {
		recipient, err := age.ParseX25519Recipient(strings.TrimSpace(key))
		if err != nil {
			return nil, fmt.Errorf("parsing recipient key %q: %w", key, err)
		}
		s.recipients = append(s.recipients, recipient)
	}
	return s, nil
}

// Seal returns the base64 age ciphertext of plaintext.
func (s *Sealer) Seal(plaintext []byte) (string, error) {
	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, s.recipients...)
	if err != nil {
		return "", fmt.Errorf("creating age encryptor: %w", err)
	}
	if _, err := w.Write(plaintext); err != nil {
		return "", fmt.Errorf("writing plaintext to age encryptor: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalizing age encryption: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// Open decrypts a value produced by Seal with an AGE-SECRET-KEY-1... identity.
func Open(ciphertext, privateKey string) ([]byte, error) {
	identity, err := age.ParseX25519Identity(strings.TrimSpace(privateKey))
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, fmt.Errorf("decoding base64 ciphertext: %w", err)
	}
	r, err := age.Decrypt(bytes.NewReader(raw), identity)
	if err != nil {
		return nil, fmt.Errorf("decrypting: %w", err)
	}
	plaintext, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading decrypted plaintext: %w", err)
	}
	return plaintext, nil
}

// Keypair is an age X25519 identity in its text encodings.
type Keypair struct {
	PrivateKey string
	PublicKey  string
}

func GenerateKeypair() (Keypair, error) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return Keypair{}, fmt.Errorf("generating age keypair: %w", err)
	}
	return Keypair{PrivateKey: identity.String(), PublicKey: identity.Recipient().String()}, nil
}

// LoadOrCreateKeyFile reads the identity stored at path, generating and
// writing a new one with mode 0600 when the file does not exist.
func LoadOrCreateKeyFile(path string) (Keypair, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		identity, err := age.ParseX25519Identity(strings.TrimSpace(string(data)))
		if err != nil {
			return Keypair{}, fmt.Errorf("invalid age key in %s: %w", path, err)
		}
		return Keypair{PrivateKey: identity.String(), PublicKey: identity.Recipient().String()}, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return Keypair{}, err
	}
	kp, err := GenerateKeypair()
	if err != nil {
		return Keypair{}, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return Keypair{}, err
	}
	if err := os.WriteFile(path, []byte(kp.PrivateKey+"\n"), 0o600); err != nil {
		return Keypair{}, fmt.Errorf("writing age key: %w", err)
	}
	return kp, nil
}
