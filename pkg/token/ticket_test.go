package token

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTicketRoundTrip(t *testing.T) {
	m := NewTicketManager("secret", time.Minute)
	ticket, err := m.Generate("doc-1", "conv-1", "fp-1")
	require.NoError(t, err)

	claims, err := m.Verify(ticket)
	require.NoError(t, err)
	assert.Equal(t, "doc-1", claims.DocumentID)
	assert.Equal(t, "conv-1", claims.ConversationID)
	assert.Equal(t, "fp-1", claims.ClientID)
}

func TestTicketRejectsWrongSecretAndExpiry(t *testing.T) {
	m := NewTicketManager("secret", time.Minute)
	ticket, err := m.Generate("doc-1", "conv-1", "fp-1")
	require.NoError(t, err)

	_, err = NewTicketManager("other", time.Minute).Verify(ticket)
	assert.Error(t, err)

	m.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	_, err = m.Verify(ticket)
	assert.Error(t, err)

	_, err = m.Verify("not-a-jwt")
	assert.Error(t, err)
}

func TestEmptySecretStillSigns(t *testing.T) {
	m := NewTicketManager("", 0)
	ticket, err := m.Generate("doc", "conv", "fp")
	require.NoError(t, err)
	_, err = m.Verify(ticket)
	assert.NoError(t, err)
}
