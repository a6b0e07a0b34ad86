package clerk

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testIssuer = "https://clerk.pixelconvert.test"

func signRS256(t *testing.T, key *rsa.PrivateKey, claims map[string]interface{}) string {
	t.Helper()
	header, err := json.Marshal(map[string]string{"alg": "RS256", "typ": "JWT", "kid": "test"})
	require.NoError(t, err)
	payload, err := json.Marshal(claims)
	require.NoError(t, err)

	signingInput := base64.RawURLEncoding.EncodeToString(header) + "." + base64.RawURLEncoding.EncodeToString(payload)
	digest := sha256.Sum256([]byte(signingInput))
	sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, digest[:])
	require.NoError(t, err)
	return signingInput + "." + base64.RawURLEncoding.EncodeToString(sig)
}

func newTestVerifier(t *testing.T) (*Verifier, *rsa.PrivateKey) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	keySet := &oidc.StaticKeySet{PublicKeys: []crypto.PublicKey{&key.PublicKey}}
	return NewVerifier(testIssuer, keySet), key
}

func TestVerifyValidSession(t *testing.T) {
	v, key := newTestVerifier(t)
	now := time.Now()
	token := signRS256(t, key, map[string]interface{}{
		"iss": testIssuer,
		"sub": "user_abc",
		"sid": "sess_1",
		"azp": "https://app.pixelconvert.test",
		"iat": now.Unix(),
		"exp": now.Add(time.Minute).Unix(),
	})

	sess, err := v.Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "user_abc", sess.UserID)
	assert.Equal(t, "sess_1", sess.SessionID)
}

func TestVerifyRejectsExpiredAndForeignTokens(t *testing.T) {
	v, key := newTestVerifier(t)
	now := time.Now()

	expired := signRS256(t, key, map[string]interface{}{
		"iss": testIssuer, "sub": "user_abc",
		"iat": now.Add(-time.Hour).Unix(), "exp": now.Add(-30 * time.Minute).Unix(),
	})
	_, err := v.Verify(context.Background(), expired)
	assert.Error(t, err)

	wrongIssuer := signRS256(t, key, map[string]interface{}{
		"iss": "https://evil.test", "sub": "user_abc",
		"iat": now.Unix(), "exp": now.Add(time.Minute).Unix(),
	})
	_, err = v.Verify(context.Background(), wrongIssuer)
	assert.Error(t, err)

	otherKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	forged := signRS256(t, otherKey, map[string]interface{}{
		"iss": testIssuer, "sub": "user_abc",
		"iat": now.Unix(), "exp": now.Add(time.Minute).Unix(),
	})
	_, err = v.Verify(context.Background(), forged)
	assert.Error(t, err)

	_, err = v.Verify(context.Background(), "")
	assert.ErrorIs(t, err, ErrMissingToken)
}
