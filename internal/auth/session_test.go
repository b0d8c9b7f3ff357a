package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		Secret: []byte("test-secret-do-not-use-in-prod"),
		Issuer: "kerneld",
		TTL:    time.Hour,
	}
}

func TestMintAndVerifyWorkerTokenRoundTrip(t *testing.T) {
	cfg := testConfig()
	token, err := MintWorkerToken("worker-1", "billing", cfg)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := VerifyWorkerToken(token, cfg)
	require.NoError(t, err)
	assert.Equal(t, "worker-1", claims.WorkerID)
	assert.Equal(t, "billing", claims.ServiceName)
	assert.Equal(t, "kerneld", claims.Issuer)
	assert.Equal(t, "worker-1", claims.Subject)
}

func TestMintWorkerTokenRequiresSecret(t *testing.T) {
	cfg := testConfig()
	cfg.Secret = nil
	_, err := MintWorkerToken("worker-1", "billing", cfg)
	assert.Error(t, err)
}

func TestVerifyWorkerTokenRejectsTamperedSignature(t *testing.T) {
	cfg := testConfig()
	token, err := MintWorkerToken("worker-1", "billing", cfg)
	require.NoError(t, err)

	other := cfg
	other.Secret = []byte("a-different-secret-entirely")
	_, err = VerifyWorkerToken(token, other)
	assert.Error(t, err)
}

func TestVerifyWorkerTokenRejectsExpiredToken(t *testing.T) {
	cfg := testConfig()
	cfg.TTL = -time.Minute
	token, err := MintWorkerToken("worker-1", "billing", cfg)
	require.NoError(t, err)

	_, err = VerifyWorkerToken(token, cfg)
	assert.Error(t, err)
}

func TestVerifyWorkerTokenRejectsIssuerMismatch(t *testing.T) {
	cfg := testConfig()
	token, err := MintWorkerToken("worker-1", "billing", cfg)
	require.NoError(t, err)

	other := cfg
	other.Issuer = "someone-else"
	_, err = VerifyWorkerToken(token, other)
	assert.Error(t, err)
}

func TestVerifyWorkerTokenRejectsEmptyToken(t *testing.T) {
	_, err := VerifyWorkerToken("", testConfig())
	assert.Error(t, err)
}

func TestHashAndVerifyServiceSecretRoundTrip(t *testing.T) {
	hash, err := HashServiceSecret("worker-secret-123")
	require.NoError(t, err)
	require.NotEmpty(t, hash)

	assert.True(t, VerifyServiceSecret(hash, "worker-secret-123"))
	assert.False(t, VerifyServiceSecret(hash, "wrong-secret"))
}
