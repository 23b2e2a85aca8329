package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func signToken(t *testing.T, claims sessionClaims, secret string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return signed
}

func validClaims() sessionClaims {
	now := time.Now()
	return sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
		SessionID: "sess-1",
	}
}

func TestVerifyToken(t *testing.T) {
	claims, err := verifyToken(signToken(t, validClaims(), testSecret), testSecret)
	if err != nil {
		t.Fatalf("verifyToken: %v", err)
	}
	if claims.Subject != "user-1" || claims.SessionID != "sess-1" {
		t.Errorf("claims = %+v", claims)
	}
}

func TestVerifyToken_Rejections(t *testing.T) {
	expired := validClaims()
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))

	noSubject := validClaims()
	noSubject.Subject = ""

	noSession := validClaims()
	noSession.SessionID = ""

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "not-a-token"},
		{"wrong secret", signToken(t, validClaims(), "ffffffffffffffffffffffffffffffff")},
		{"expired", signToken(t, expired, testSecret)},
		{"missing subject", signToken(t, noSubject, testSecret)},
		{"missing session id", signToken(t, noSession, testSecret)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := verifyToken(tt.token, testSecret); !errors.Is(err, ErrUnauthorized) {
				t.Errorf("error = %v, want ErrUnauthorized", err)
			}
		})
	}
}

// countingValidator records how many validations hit the backing store.
type countingValidator struct {
	mu    sync.Mutex
	calls int
	id    Identity
	err   error
}

func (v *countingValidator) Validate(_ context.Context, _ string) (Identity, error) {
	v.mu.Lock()
	v.calls++
	v.mu.Unlock()
	return v.id, v.err
}

func (v *countingValidator) callCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.calls
}

func TestGuard_MemoizesWithinRequest(t *testing.T) {
	v := &countingValidator{id: Identity{UserID: "user-1", SessionID: "sess-1"}}
	guard := NewGuard(v)
	ctx := WithMemo(context.Background())

	for i := 0; i < 3; i++ {
		id, err := guard.Authorize(ctx, "token-a")
		if err != nil {
			t.Fatalf("Authorize: %v", err)
		}
		if id.UserID != "user-1" {
			t.Errorf("identity = %+v", id)
		}
	}
	if v.callCount() != 1 {
		t.Errorf("validator calls = %d, want 1", v.callCount())
	}

	// A different token within the same request validates separately.
	if _, err := guard.Authorize(ctx, "token-b"); err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if v.callCount() != 2 {
		t.Errorf("validator calls = %d, want 2", v.callCount())
	}
}

func TestGuard_NoMemoAcrossRequests(t *testing.T) {
	v := &countingValidator{id: Identity{UserID: "user-1"}}
	guard := NewGuard(v)

	// Two distinct request contexts each pay their own roundtrip.
	for i := 0; i < 2; i++ {
		if _, err := guard.Authorize(WithMemo(context.Background()), "token-a"); err != nil {
			t.Fatalf("Authorize: %v", err)
		}
	}
	if v.callCount() != 2 {
		t.Errorf("validator calls = %d, want 2", v.callCount())
	}
}

func TestGuard_MemoizesErrors(t *testing.T) {
	v := &countingValidator{err: ErrStoreUnavailable}
	guard := NewGuard(v)
	ctx := WithMemo(context.Background())

	for i := 0; i < 2; i++ {
		if _, err := guard.Authorize(ctx, "token-a"); !errors.Is(err, ErrStoreUnavailable) {
			t.Errorf("error = %v, want ErrStoreUnavailable", err)
		}
	}
	if v.callCount() != 1 {
		t.Errorf("validator calls = %d, want 1", v.callCount())
	}
}
