package identity

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken        = errors.New("invalid token")
	ErrSignerNotConfigured = errors.New("token secret not configured")
)

// Provider answers who the current user is and pushes identity changes.
type Provider interface {
	CurrentIdentity(ctx context.Context) (domain.Identity, error)
	// OnIdentityChange registers fn and returns a function that removes it.
	OnIdentityChange(fn func(domain.Identity)) (unsubscribe func())
}

// Claims are the JWT claims accepted by SignIn. The subject is the user id.
type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
}

// Session is a Provider for one client session. Identity is established by
// presenting an HS256 token and dropped by SignOut.
type Session struct {
	secret []byte

	mu          sync.Mutex
	current     domain.Identity
	nextSubID   int
	subscribers map[int]func(domain.Identity)
	order       []int
}

var _ Provider = (*Session)(nil)

func NewSession(secret []byte) *Session {
	return &Session{
		secret:      secret,
		subscribers: make(map[int]func(domain.Identity)),
	}
}

func (s *Session) CurrentIdentity(context.Context) (domain.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current, nil
}

func (s *Session) OnIdentityChange(fn func(domain.Identity)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = fn
	s.order = append(s.order, id)

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subscribers, id)
		for i, v := range s.order {
			if v == id {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}
	}
}

// SignIn validates token and switches the session to its subject. Subscribers
// are notified synchronously, in registration order, only when the identity
// actually changes.
func (s *Session) SignIn(tokenStr string) (domain.Identity, error) {
	claims, err := s.Validate(tokenStr)
	if err != nil {
		return domain.Anonymous, err
	}
	id := domain.Authenticated(claims.Subject)
	s.set(id)
	return id, nil
}

func (s *Session) SignOut() {
	s.set(domain.Anonymous)
}

func (s *Session) Validate(tokenStr string) (*Claims, error) {
	if len(s.secret) == 0 {
		return nil, ErrSignerNotConfigured
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: subject is required", ErrInvalidToken)
	}
	return claims, nil
}

func (s *Session) set(id domain.Identity) {
	s.mu.Lock()
	if s.current == id {
		s.mu.Unlock()
		return
	}
	s.current = id
	subs := make([]func(domain.Identity), 0, len(s.order))
	for _, k := range s.order {
		subs = append(subs, s.subscribers[k])
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(id)
	}
}

// IssueToken signs a token for userID. Used by the dev sign-in path and tests.
func IssueToken(secret []byte, userID string, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", ErrSignerNotConfigured
	}
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}
