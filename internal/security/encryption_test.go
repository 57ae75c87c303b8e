// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package security

import (
	"bytes"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// testIterations keeps key derivation fast in tests.
const testIterations = 1000

func testCipher(t *testing.T) *Cipher {
	t.Helper()
	key, err := GenerateMasterKey()
	require.NoError(t, err)
	c, err := NewCipher(key)
	require.NoError(t, err)
	return c
}

// =============================================================================
// KEY DERIVATION TESTS
// =============================================================================

// TestEncryption_KeyDerivation tests that PBKDF2 key derivation is deterministic.
func TestEncryption_KeyDerivation(t *testing.T) {
	secret := []byte("testpassword123")
	salt := []byte("test_salt_value!")

	key1 := DeriveKeyIterations(secret, salt, testIterations)
	key2 := DeriveKeyIterations(secret, salt, testIterations)
	require.True(t, bytes.Equal(key1, key2), "Same secret/salt should derive same key")

	key3 := DeriveKeyIterations(secret, []byte("different_salt!!"), testIterations)
	require.False(t, bytes.Equal(key1, key3), "Different salt should derive different key")

	key4 := DeriveKeyIterations([]byte("differentpassword"), salt, testIterations)
	require.False(t, bytes.Equal(key1, key4), "Different secret should derive different key")

	require.Equal(t, KeySize, len(DeriveKey(secret, salt)), "Derived key should be %d bytes", KeySize)
}

func TestEncryption_GeneratedMaterialIsRandom(t *testing.T) {
	a, err := GenerateMasterKey()
	require.NoError(t, err)
	b, err := GenerateMasterKey()
	require.NoError(t, err)
	require.False(t, bytes.Equal(a, b))

	salt, err := GenerateSalt()
	require.NoError(t, err)
	require.Len(t, salt, SaltSize)
}

// =============================================================================
// CIPHER TESTS
// =============================================================================

func TestCipher_RoundTrip(t *testing.T) {
	c := testCipher(t)
	for _, plaintext := range []string{"", "sk-abc", strings.Repeat("x", 4096), "ключ 🔑"} {
		enc, err := c.EncryptString(plaintext)
		require.NoError(t, err)
		require.True(t, IsEncrypted(enc))

		dec, err := c.DecryptString(enc)
		require.NoError(t, err)
		require.Equal(t, plaintext, dec)
	}
}

func TestCipher_NoncesDiffer(t *testing.T) {
	c := testCipher(t)
	a, err := c.EncryptString("same")
	require.NoError(t, err)
	b, err := c.EncryptString("same")
	require.NoError(t, err)
	require.NotEqual(t, a, b, "each encryption must use a fresh nonce")
}

func TestCipher_Tampering(t *testing.T) {
	c := testCipher(t)
	ct, err := c.Encrypt([]byte("secret"))
	require.NoError(t, err)

	ct[len(ct)-1] ^= 0x01
	_, err = c.Decrypt(ct)
	require.ErrorIs(t, err, ErrDecryptionFailed)

	_, err = c.Decrypt([]byte("short"))
	require.ErrorIs(t, err, ErrInvalidCiphertext)
}

func TestCipher_WrongKey(t *testing.T) {
	enc, err := testCipher(t).EncryptString("secret")
	require.NoError(t, err)
	_, err = testCipher(t).DecryptString(enc)
	require.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestCipher_PlaintextPassesThrough(t *testing.T) {
	got, err := testCipher(t).DecryptString("not-encrypted")
	require.NoError(t, err)
	require.Equal(t, "not-encrypted", got)

	_, err = testCipher(t).DecryptString(EncryptedPrefix + "!!!not base64")
	require.Error(t, err)
}

func TestCipher_InvalidKeySize(t *testing.T) {
	_, err := NewCipher(make([]byte, 16))
	require.Error(t, err)
}

func TestCipher_Concurrent(t *testing.T) {
	c := testCipher(t)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			enc, err := c.EncryptString("concurrent")
			if err != nil {
				t.Error(err)
				return
			}
			if dec, err := c.DecryptString(enc); err != nil || dec != "concurrent" {
				t.Errorf("round trip = %q, %v", dec, err)
			}
		}()
	}
	wg.Wait()
}

func TestZeroBytes(t *testing.T) {
	b := []byte{1, 2, 3}
	ZeroBytes(b)
	require.Equal(t, []byte{0, 0, 0}, b)
}
