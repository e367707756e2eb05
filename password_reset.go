package bugtrack

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/oarkflow/bugtrack/logger"
)

// PasswordResets issues and redeems password reset tokens.
type PasswordResets struct {
	users    UserStore
	mailer   Mailer
	expiry   time.Duration
	baseURL  string
	cost     int
	now      func() time.Time
	newToken func() string
	logger   logger.Logger
}

type PasswordResetOption func(*PasswordResets)

func WithResetExpiry(d time.Duration) PasswordResetOption {
	return func(r *PasswordResets) {
		if d > 0 {
			r.expiry = d
		}
	}
}

func WithResetClock(now func() time.Time) PasswordResetOption {
	return func(r *PasswordResets) { r.now = now }
}

func WithResetBaseURL(u string) PasswordResetOption {
	return func(r *PasswordResets) { r.baseURL = u }
}

// WithBcryptCost sets the hashing cost; tests use bcrypt.MinCost.
func WithBcryptCost(cost int) PasswordResetOption {
	return func(r *PasswordResets) { r.cost = cost }
}

func WithTokenFunc(fn func() string) PasswordResetOption {
	return func(r *PasswordResets) { r.newToken = fn }
}

func WithResetLogger(l logger.Logger) PasswordResetOption {
	return func(r *PasswordResets) { r.logger = l }
}

func NewPasswordResets(users UserStore, mailer Mailer, opts ...PasswordResetOption) *PasswordResets {
	r := &PasswordResets{
		users:    users,
		mailer:   mailer,
		expiry:   DefaultResetExpiry,
		cost:     bcrypt.DefaultCost,
		now:      time.Now,
		newToken: uuid.NewString,
		logger:   logger.NewDiscard(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Request starts a reset for the account with email. An unknown email is not
// an error, so callers cannot learn which addresses exist.
func (r *PasswordResets) Request(ctx context.Context, email string) error {
	u, err := r.users.FindUserByEmail(ctx, strings.TrimSpace(email))
	if errors.Is(err, ErrNotFound) {
		r.logger.Info("password reset requested for unknown email")
		return nil
	}
	if err != nil {
		return err
	}
	u.PasswordResetToken = r.newToken()
	u.PasswordResetSentAt = r.now()
	if err := r.users.SaveUser(ctx, u); err != nil {
		return fmt.Errorf("store reset token: %w", err)
	}
	if r.mailer != nil {
		msg := ComposePasswordReset(u, u.PasswordResetToken, r.baseURL)
		if err := r.mailer.Deliver(ctx, msg); err != nil {
			return fmt.Errorf("deliver reset mail: %w", err)
		}
	}
	r.logger.Info("password reset requested", "user", u.ID)
	return nil
}

// Lookup returns the user holding token.
func (r *PasswordResets) Lookup(ctx context.Context, token string) (*User, error) {
	if token == "" {
		return nil, fmt.Errorf("reset token: %w", ErrNotFound)
	}
	return r.users.FindUserByResetToken(ctx, token)
}

// Reset sets a new password. It fails with ErrNotFound for an unknown token,
// ErrResetExpired once the window has passed and ErrInvalidPassword when the
// password is blank or the confirmation differs. Failures leave the stored
// password untouched.
func (r *PasswordResets) Reset(ctx context.Context, token, password, confirmation string) error {
	u, err := r.Lookup(ctx, token)
	if err != nil {
		return err
	}
	if r.Expired(u) {
		return ErrResetExpired
	}
	if password == "" {
		return fmt.Errorf("%w: password can't be blank", ErrInvalidPassword)
	}
	if password != confirmation {
		return fmt.Errorf("%w: password doesn't match confirmation", ErrInvalidPassword)
	}
	if err := u.SetPassword(password, r.cost); err != nil {
		return err
	}
	u.PasswordResetToken = ""
	u.PasswordResetSentAt = time.Time{}
	if err := r.users.SaveUser(ctx, u); err != nil {
		return fmt.Errorf("store password: %w", err)
	}
	r.logger.Info("password reset", "user", u.ID)
	return nil
}

// Expired reports whether the user's reset token is older than the window.
func (r *PasswordResets) Expired(u *User) bool {
	if u.PasswordResetSentAt.IsZero() {
		return true
	}
	return u.PasswordResetSentAt.Before(r.now().Add(-r.expiry))
}
