package sealed_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"caseflow/internal/sealed"
)

func TestSealRoundTrip(t *testing.T) {
	kp, err := sealed.GenerateKeypair()
	require.NoError(t, err)
	s, err := sealed.New([]string{kp.PublicKey})
	require.NoError(t, err)

	ct, err := s.Seal([]byte(`{"text":"Invoice for case 42"}`))
	require.NoError(t, err)
	assert.NotContains(t, ct, "Invoice")

	pt, err := sealed.Open(ct, kp.PrivateKey)
	require.NoError(t, err)
	assert.Equal(t, `{"text":"Invoice for case 42"}`, string(pt))

	other, err := sealed.GenerateKeypair()
	require.NoError(t, err)
	_, err = sealed.Open(ct, other.PrivateKey)
	assert.Error(t, err)
}

func TestNewRejectsBadRecipients(t *testing.T) {
	_, err := sealed.New(nil)
	assert.Error(t, err)
	_, err = sealed.New([]string{"not-a-key"})
	assert.Error(t, err)
}

func TestLoadOrCreateKeyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "invoice.key")
	first, err := sealed.LoadOrCreateKeyFile(path)
	require.NoError(t, err)
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	second, err := sealed.LoadOrCreateKeyFile(path)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
