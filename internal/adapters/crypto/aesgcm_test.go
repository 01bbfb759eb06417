package crypto

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bft-labs/claimship/internal/domain"
	"github.com/bft-labs/claimship/internal/ports"
	"github.com/bft-labs/claimship/internal/store"
)

var _ ports.ColumnEncryptor = (*AESGCM)(nil)

func testKey() []byte {
	return bytes.Repeat([]byte{7}, KeySize)
}

func TestAESGCM_RoundTrip(t *testing.T) {
	c, err := NewAESGCM(testKey())
	require.NoError(t, err)

	tests := []struct {
		name  string
		plain []byte
	}{
		{name: "payload", plain: []byte(`{"claim":1}`)},
		{name: "empty", plain: []byte{}},
		{name: "nil", plain: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc, err := c.Encrypt(tt.plain)
			require.NoError(t, err)
			if tt.plain == nil {
				assert.Nil(t, enc)
			} else if len(tt.plain) > 0 {
				assert.NotContains(t, string(enc), string(tt.plain))
			}
			dec, err := c.Decrypt(enc)
			require.NoError(t, err)
			assert.Equal(t, tt.plain, dec)
		})
	}
}

func TestAESGCM_NonceIsRandom(t *testing.T) {
	c, err := NewAESGCM(testKey())
	require.NoError(t, err)
	a, _ := c.Encrypt([]byte("same"))
	b, _ := c.Encrypt([]byte("same"))
	assert.NotEqual(t, a, b)
}

func TestAESGCM_Tampered(t *testing.T) {
	c, err := NewAESGCM(testKey())
	require.NoError(t, err)
	enc, err := c.Encrypt([]byte("secret"))
	require.NoError(t, err)

	enc[len(enc)-1] ^= 0xff
	_, err = c.Decrypt(enc)
	assert.True(t, errors.Is(err, ErrCiphertext))

	_, err = c.Decrypt([]byte{formatV1, 1, 2})
	assert.ErrorIs(t, err, ErrCiphertext)

	other, err := NewAESGCM(bytes.Repeat([]byte{9}, KeySize))
	require.NoError(t, err)
	enc, _ = c.Encrypt([]byte("secret"))
	_, err = other.Decrypt(enc)
	assert.ErrorIs(t, err, ErrCiphertext)
}

func TestParseKey(t *testing.T) {
	good := base64.StdEncoding.EncodeToString(testKey())
	key, err := ParseKey(" " + good + "\n")
	require.NoError(t, err)
	assert.Equal(t, testKey(), key)

	_, err = ParseKey(base64.StdEncoding.EncodeToString([]byte("short")))
	assert.ErrorIs(t, err, ErrKeySize)

	_, err = ParseKey("%%%")
	assert.Error(t, err)

	_, err = NewAESGCM([]byte("short"))
	assert.ErrorIs(t, err, ErrKeySize)
}

func TestAESGCM_WithStore(t *testing.T) {
	c, err := NewAESGCM(testKey())
	require.NoError(t, err)
	s, err := store.Open(filepath.Join(t.TempDir(), "enc.db"), store.WithEncryptor(c))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	now := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	key := domain.ClaimKey{ProviderDhsCode: "P1", ProIdClaim: 1}
	require.NoError(t, s.UpsertStagedClaim(ctx, domain.StageClaim{Key: key, CompanyCode: "C1", MonthKey: "202403"}, now))
	require.NoError(t, s.UpsertPayload(ctx, key, []byte(`{"patient":"x"}`), now))

	var raw []byte
	require.NoError(t, s.DB().QueryRowContext(ctx, `SELECT PayloadJson FROM ClaimPayload WHERE ProIdClaim = 1`).Scan(&raw))
	assert.NotContains(t, string(raw), "patient")

	p, err := s.GetPayload(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, `{"patient":"x"}`, string(p.Payload))
}
