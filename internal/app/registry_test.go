package app

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/Slicer/internal/domain"
)

func reason(t *testing.T, err error) string {
	t.Helper()
	var ce *CredentialError
	require.True(t, errors.As(err, &ce), "expected CredentialError, got %v", err)
	assert.ErrorIs(t, err, domain.ErrCredential)
	return ce.Reason
}

func TestRegistry_CreateAndValidate(t *testing.T) {
	r := NewRegistry()
	sid, cred := r.CreateSession()

	assert.Equal(t, domain.StateReady, r.State(sid))
	assert.NoError(t, r.Validate(sid, cred, domain.ActionStart))

	err := r.Validate(sid, cred, domain.ActionStream)
	assert.ErrorIs(t, err, domain.ErrProtocol, "stream before start")
}

func TestRegistry_CredentialBoundToSession(t *testing.T) {
	r := NewRegistry()
	a, credA := r.CreateSession()
	b, credB := r.CreateSession()

	assert.NoError(t, r.Validate(a, credA, domain.ActionStart))
	assert.Equal(t, ReasonMismatch, reason(t, r.Validate(b, credA, domain.ActionStart)))
	assert.Equal(t, ReasonMismatch, reason(t, r.Validate(a, credB, domain.ActionStart)))
	assert.Equal(t, ReasonUnknown, reason(t, r.Validate(a, domain.NewCredential(), domain.ActionStart)))
}

func TestRegistry_RotateIsSingleUse(t *testing.T) {
	r := NewRegistry()
	sid, c0 := r.CreateSession()
	require.NoError(t, r.Activate(sid))
	require.NoError(t, r.Validate(sid, c0, domain.ActionStream))

	c1, err := r.Rotate(sid)
	require.NoError(t, err)
	assert.NotEqual(t, c0, c1)
	assert.Equal(t, domain.StateStreaming, r.State(sid))

	assert.Equal(t, ReasonReplayed, reason(t, r.Validate(sid, c0, domain.ActionStream)))
	assert.NoError(t, r.Validate(sid, c1, domain.ActionStream))

	cur, ok := r.Current(sid)
	require.True(t, ok)
	assert.Equal(t, c1, cur)
	assert.Equal(t, []domain.Credential{c0, c1}, r.History(sid))
}

func TestRegistry_ActivateTwice(t *testing.T) {
	r := NewRegistry()
	sid, _ := r.CreateSession()
	require.NoError(t, r.Activate(sid))
	assert.ErrorIs(t, r.Activate(sid), domain.ErrProtocol)
	assert.ErrorIs(t, r.Activate("nope"), domain.ErrSessionClosed)
}

func TestRegistry_DestroyInvalidatesHistory(t *testing.T) {
	r := NewRegistry()
	sid, c0 := r.CreateSession()
	require.NoError(t, r.Activate(sid))
	c1, _ := r.Rotate(sid)
	c2, _ := r.Rotate(sid)

	hist := r.Destroy(sid)
	assert.Equal(t, []domain.Credential{c0, c1, c2}, hist)
	assert.Equal(t, domain.StateClosed, r.State(sid))
	assert.Zero(t, r.Count())

	for _, c := range hist {
		assert.Equal(t, ReasonClosed, reason(t, r.Validate(sid, c, domain.ActionStream)))
	}
	_, err := r.Rotate(sid)
	assert.ErrorIs(t, err, domain.ErrSessionClosed)
	assert.Nil(t, r.Destroy(sid))
}

func TestRegistry_DestroyedCredentialNeverValidatesElsewhere(t *testing.T) {
	r := NewRegistry()
	a, credA := r.CreateSession()
	b, _ := r.CreateSession()
	r.Destroy(a)
	assert.Equal(t, ReasonReplayed, reason(t, r.Validate(b, credA, domain.ActionStart)))
}

func TestRegistry_ConcurrentSessions(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sid, cred := r.CreateSession()
			if err := r.Activate(sid); err != nil {
				t.Error(err)
				return
			}
			for j := 0; j < 10; j++ {
				if err := r.Validate(sid, cred, domain.ActionStream); err != nil {
					t.Error(err)
					return
				}
				next, err := r.Rotate(sid)
				if err != nil {
					t.Error(err)
					return
				}
				cred = next
			}
			r.Destroy(sid)
		}()
	}
	wg.Wait()
	assert.Zero(t, r.Count())
}
