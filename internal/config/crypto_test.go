package config

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	return key
}

func TestParseEncryptionKey(t *testing.T) {
	key := testKey(t)

	parsed, err := ParseEncryptionKey(hex.EncodeToString(key))
	require.NoError(t, err)
	assert.Equal(t, key, parsed)

	parsed, err = ParseEncryptionKey(base64.StdEncoding.EncodeToString(key))
	require.NoError(t, err)
	assert.Equal(t, key, parsed)

	_, err = ParseEncryptionKey("")
	assert.Error(t, err)
	_, err = ParseEncryptionKey("too-short")
	assert.Error(t, err)
	_, err = ParseEncryptionKey(base64.StdEncoding.EncodeToString(key[:16]))
	assert.Error(t, err)
}

func TestEnvelopeRoundTrip(t *testing.T) {
	key := testKey(t)
	plaintext := []byte(`[{"agentId":"agent_abc"}]`)

	env, err := EncryptEnvelope(plaintext, key)
	require.NoError(t, err)
	assert.Equal(t, "AES-256-GCM", env.Algorithm)

	out, err := DecryptEnvelope(env, key)
	require.NoError(t, err)
	assert.Equal(t, plaintext, out)
}

func TestDecryptEnvelopeRejectsTamperedAuthTag(t *testing.T) {
	key := testKey(t)
	env, err := EncryptEnvelope([]byte("payload"), key)
	require.NoError(t, err)

	tag, err := base64.StdEncoding.DecodeString(env.AuthTag)
	require.NoError(t, err)
	tag[0] ^= 0xFF
	env.AuthTag = base64.StdEncoding.EncodeToString(tag)

	_, err = DecryptEnvelope(env, key)
	assert.Error(t, err)
}

func TestDecryptEnvelopeRejectsWrongKey(t *testing.T) {
	env, err := EncryptEnvelope([]byte("payload"), testKey(t))
	require.NoError(t, err)

	_, err = DecryptEnvelope(env, testKey(t))
	assert.Error(t, err)
}

func TestDecryptEnvelopeRejectsBadShape(t *testing.T) {
	key := testKey(t)
	env, err := EncryptEnvelope([]byte("payload"), key)
	require.NoError(t, err)

	bad := *env
	bad.Algorithm = "AES-128-CBC"
	_, err = DecryptEnvelope(&bad, key)
	assert.Error(t, err)

	bad = *env
	bad.IV = base64.StdEncoding.EncodeToString(make([]byte, 8))
	_, err = DecryptEnvelope(&bad, key)
	assert.Error(t, err)

	bad = *env
	bad.Ciphertext = "!!!"
	_, err = DecryptEnvelope(&bad, key)
	assert.Error(t, err)
}

func TestDecryptAgentConfig(t *testing.T) {
	key := testKey(t)
	descriptors := []*AgentDescriptor{{
		AgentID:             "agent_abc",
		BearerToken:         "bearer-1",
		SquareAccessToken:   "EAAAtoken",
		SquareLocationID:    "LOC1",
		SquareApplicationID: "APP1",
		Timezone:            "America/New_York",
	}}
	plaintext, err := json.Marshal(descriptors)
	require.NoError(t, err)

	env, err := EncryptEnvelope(plaintext, key)
	require.NoError(t, err)
	envelopeJSON, err := json.Marshal(env)
	require.NoError(t, err)

	out, err := DecryptAgentConfig(envelopeJSON, key)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "agent_abc", out[0].AgentID)

	_, err = DecryptAgentConfig([]byte("not json"), key)
	assert.Error(t, err)
}

func TestParseAgentDescriptors(t *testing.T) {
	valid := `[{
		"agentId": "agent_abc",
		"bearerToken": "bearer-1",
		"squareAccessToken": "EAAAtoken",
		"squareLocationId": "LOC1",
		"squareApplicationId": "APP1",
		"timezone": "America/New_York",
		"defaultLocationId": "LOC2"
	}]`
	descriptors, err := ParseAgentDescriptors([]byte(valid))
	require.NoError(t, err)
	require.Len(t, descriptors, 1)
	assert.Equal(t, "LOC2", descriptors[0].Location())

	_, err = ParseAgentDescriptors([]byte(`{"agentId":"x"}`))
	assert.Error(t, err)

	_, err = ParseAgentDescriptors([]byte(`[{"agentId":"agent_abc"}]`))
	assert.ErrorContains(t, err, "missing required fields")

	dup := `[` + validEntry + `,` + validEntry + `]`
	_, err = ParseAgentDescriptors([]byte(dup))
	assert.ErrorContains(t, err, "duplicate agentId")
}

const validEntry = `{
	"agentId": "agent_abc",
	"bearerToken": "bearer-1",
	"squareAccessToken": "EAAAtoken",
	"squareLocationId": "LOC1",
	"squareApplicationId": "APP1",
	"timezone": "America/New_York"
}`
