package auth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parkpeek-guard/internal/model"
	"parkpeek-guard/internal/store"
)

type memGuards struct {
	mu     sync.Mutex
	guards map[string]*model.Guard
}

func newMemGuards() *memGuards {
	return &memGuards{guards: make(map[string]*model.Guard)}
}

func (m *memGuards) FindGuardByEmail(_ context.Context, email string) (*model.Guard, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, g := range m.guards {
		if g.Email == email {
			return g, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *memGuards) FindGuardByID(_ context.Context, id string) (*model.Guard, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if g, ok := m.guards[id]; ok {
		return g, nil
	}
	return nil, store.ErrNotFound
}

func (m *memGuards) CreateGuard(_ context.Context, guard *model.Guard) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.guards[guard.ID] = guard
	return nil
}

func newTestService(t *testing.T) (*Service, *memGuards) {
	guards := newMemGuards()
	svc, err := NewService(guards, "test-secret", time.Hour, "parkpeek.com")
	require.NoError(t, err)
	return svc, guards
}

func TestNewService_RequiresSecret(t *testing.T) {
	_, err := NewService(newMemGuards(), "", time.Hour, "parkpeek.com")
	assert.Error(t, err)
}

func TestEmailFor(t *testing.T) {
	svc, _ := newTestService(t)
	assert.Equal(t, "guard1@parkpeek.com", svc.EmailFor(" Guard1 "))
	assert.Equal(t, "chief@campus.edu", svc.EmailFor("chief@campus.edu"))
}

func TestSignIn(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	created, isNew, err := svc.EnsureGuard(ctx, "guard1", "s3cret!")
	require.NoError(t, err)
	require.True(t, isNew)

	token, guard, err := svc.SignIn(ctx, "guard1", "s3cret!")
	require.NoError(t, err)
	assert.Equal(t, created.ID, guard.ID)

	claims, err := svc.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, created.ID, claims.Subject)
	assert.Equal(t, "guard1@parkpeek.com", claims.Email)
	assert.NotEmpty(t, claims.ID)

	me, err := svc.CurrentUser(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, created.ID, me.ID)

	testCases := []struct {
		name, username, password string
		expected                 error
	}{
		{name: "wrong password", username: "guard1", password: "nope", expected: ErrInvalidCredentials},
		{name: "unknown user", username: "ghost", password: "s3cret!", expected: ErrInvalidCredentials},
		{name: "empty password", username: "guard1", password: "", expected: ErrMissingFields},
		{name: "empty username", username: "  ", password: "s3cret!", expected: ErrMissingFields},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := svc.SignIn(ctx, tc.username, tc.password)
			assert.ErrorIs(t, err, tc.expected)
		})
	}
}

func TestEnsureGuard_Idempotent(t *testing.T) {
	svc, guards := newTestService(t)
	ctx := context.Background()

	first, _, err := svc.EnsureGuard(ctx, "guard1", "a")
	require.NoError(t, err)
	second, isNew, err := svc.EnsureGuard(ctx, "guard1", "b")
	require.NoError(t, err)
	assert.False(t, isNew)
	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, guards.guards, 1)
	assert.NotEqual(t, "a", first.PasswordHash)
}

func TestVerify_Rejects(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	_, _, err := svc.EnsureGuard(ctx, "guard1", "pw")
	require.NoError(t, err)
	token, _, err := svc.SignIn(ctx, "guard1", "pw")
	require.NoError(t, err)

	t.Run("expired", func(t *testing.T) {
		later := *svc
		later.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
		_, err := later.Verify(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("other secret", func(t *testing.T) {
		other, err := NewService(newMemGuards(), "another-secret", time.Hour, "parkpeek.com")
		require.NoError(t, err)
		_, err = other.Verify(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("unsigned", func(t *testing.T) {
		unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "x"}).
			SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		_, err = svc.Verify(unsigned)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := svc.Verify("not-a-token")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestCurrentUser_DeletedGuard(t *testing.T) {
	svc, guards := newTestService(t)
	ctx := context.Background()
	guard, _, err := svc.EnsureGuard(ctx, "guard1", "pw")
	require.NoError(t, err)
	token, _, err := svc.SignIn(ctx, "guard1", "pw")
	require.NoError(t, err)

	delete(guards.guards, guard.ID)
	_, err = svc.CurrentUser(ctx, token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
