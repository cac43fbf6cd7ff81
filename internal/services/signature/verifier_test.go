package signature

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVoiceVerifierRoundTrip(t *testing.T) {
	v := NewVoiceVerifier("signing-key")
	body := []byte(`{"event":"call_inbound"}`)

	header := v.Sign(body, time.Now())
	assert.NoError(t, v.Verify(body, header))
}

func TestVoiceVerifierRejectsTamperedBody(t *testing.T) {
	v := NewVoiceVerifier("signing-key")
	header := v.Sign([]byte(`{"event":"call_inbound"}`), time.Now())

	err := v.Verify([]byte(`{"event":"call_analyzed"}`), header)
	assert.ErrorIs(t, err, ErrMismatch)
}

func TestVoiceVerifierRejectsWrongKey(t *testing.T) {
	body := []byte(`{"event":"call_inbound"}`)
	header := NewVoiceVerifier("other-key").Sign(body, time.Now())

	err := NewVoiceVerifier("signing-key").Verify(body, header)
	assert.ErrorIs(t, err, ErrMismatch)
}

func TestVoiceVerifierReplayWindow(t *testing.T) {
	v := NewVoiceVerifier("signing-key")
	body := []byte(`{}`)

	stale := v.Sign(body, time.Now().Add(-ReplayWindow-time.Minute))
	assert.ErrorIs(t, v.Verify(body, stale), ErrReplayWindow)

	future := v.Sign(body, time.Now().Add(ReplayWindow+time.Minute))
	assert.ErrorIs(t, v.Verify(body, future), ErrReplayWindow)

	edge := v.Sign(body, time.Now().Add(-ReplayWindow+10*time.Second))
	assert.NoError(t, v.Verify(body, edge))
}

func TestVoiceVerifierMalformedHeaders(t *testing.T) {
	v := NewVoiceVerifier("signing-key")
	body := []byte(`{}`)

	for _, header := range []string{
		"",
		"garbage",
		"v=123",
		"d=deadbeef",
		"v=notanumber,d=deadbeef",
		fmt.Sprintf("v=%d,d=nothex", time.Now().UnixMilli()),
	} {
		assert.ErrorIs(t, v.Verify(body, header), ErrMalformedHeader, "header %q", header)
	}
}

func TestVoiceVerifierSelfCheck(t *testing.T) {
	v := NewVoiceVerifier("signing-key")
	body := `{"probe":true}`
	ts := time.UnixMilli(1700000000000)

	header := v.Sign([]byte(body), ts)
	// header is "v=<ts>,d=<digest>"; extract the digest for the probe.
	var tsOut int64
	var digest string
	_, err := fmt.Sscanf(header, "v=%d,d=%s", &tsOut, &digest)
	require.NoError(t, err)

	probe := fmt.Sprintf("%s|%d|%s", body, ts.UnixMilli(), digest)
	assert.NoError(t, v.SelfCheck(probe))

	// Empty probe is a no-op.
	assert.NoError(t, v.SelfCheck(""))

	// A probe signed with a different key refuses startup.
	assert.Error(t, NewVoiceVerifier("wrong-key").SelfCheck(probe))

	assert.Error(t, v.SelfCheck("only-one-part"))
	assert.Error(t, v.SelfCheck("body|notanumber|deadbeef"))
}

func TestHMACVerifierRoundTrip(t *testing.T) {
	v := NewHMACVerifier("commerce-key")
	body := []byte(`{"type":"booking.created"}`)

	header := v.Sign(body)
	assert.NoError(t, v.Verify(body, header))
	assert.NoError(t, v.Verify(body, "  "+header+"\n"))
}

func TestHMACVerifierRejectsTamperAndGarbage(t *testing.T) {
	v := NewHMACVerifier("commerce-key")
	header := v.Sign([]byte(`{"type":"booking.created"}`))

	assert.ErrorIs(t, v.Verify([]byte(`{"type":"booking.updated"}`), header), ErrMismatch)
	assert.ErrorIs(t, v.Verify([]byte(`{}`), "!!!not-base64!!!"), ErrMalformedHeader)
}
