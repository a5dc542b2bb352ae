package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"golang.org/x/crypto/bcrypt"

	"github.com/pixelforge/backend/internal/models"
	"github.com/pixelforge/backend/internal/quota"
)

var (
	// ErrDuplicateEmail is returned when registering with an email that
	// already exists.
	ErrDuplicateEmail = errors.New("email already registered")

	// ErrInvalidCredentials covers unknown email and wrong password alike.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Defaults seeded for a fresh account. Top-ups and plan changes move them
// later through the credits and quota endpoints.
const (
	DefaultMonthlyBudgetCents = 10_000
	DefaultInitialCredits     = 100
	DefaultMonthlyJobLimit    = 50
	DefaultCostLimitCents     = 5_000
)

// Store is the persistence slice the service needs.
type Store interface {
	CreateAccountWithUser(ctx context.Context, acc *models.Account, user *models.User) error
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetAccount(ctx context.Context, id uuid.UUID) (*models.Account, error)
}

// BalanceSeeder creates the account's credit balance at registration.
type BalanceSeeder interface {
	EnsureBalance(ctx context.Context, accountID uuid.UUID, initial int64) error
}

// Identity is the authenticated principal carried in the token.
type Identity struct {
	UserID    uuid.UUID
	AccountID uuid.UUID
}

type Service interface {
	Register(ctx context.Context, email, password, displayName, company string) (*models.User, error)
	Login(ctx context.Context, email, password string) (string, error)
	ValidateToken(ctx context.Context, token string) (Identity, error)
}

type service struct {
	store    Store
	balances BalanceSeeder
	quotas   quota.Store
	secret   []byte
	tokenTTL time.Duration
}

func NewService(store Store, balances BalanceSeeder, quotas quota.Store, secret string) Service {
	return &service{
		store:    store,
		balances: balances,
		quotas:   quotas,
		secret:   []byte(secret),
		tokenTTL: 24 * time.Hour,
	}
}

var _ Service = (*service)(nil)

type claims struct {
	jwt.RegisteredClaims
	AccountID string `json:"account_id"`
}

// Register creates the account, its first user, the seeded credit balance
// and the default quota.
func (s *service) Register(ctx context.Context, email, password, displayName, company string) (*models.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	acc := &models.Account{
		ID:                 uuid.New(),
		Name:               displayName,
		Company:            company,
		MonthlyBudgetCents: DefaultMonthlyBudgetCents,
	}
	user := &models.User{
		ID:           uuid.New(),
		AccountID:    acc.ID,
		Email:        email,
		DisplayName:  displayName,
		PasswordHash: string(hash),
	}
	if err := s.store.CreateAccountWithUser(ctx, acc, user); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrDuplicateEmail
		}
		return nil, err
	}
	if err := s.balances.EnsureBalance(ctx, acc.ID, DefaultInitialCredits); err != nil {
		return nil, fmt.Errorf("seed balance: %w", err)
	}
	if err := s.quotas.SetLimits(ctx, &models.UserQuota{
		UserID:         user.ID,
		MonthlyLimit:   DefaultMonthlyJobLimit,
		CostLimitCents: DefaultCostLimitCents,
	}); err != nil {
		return nil, fmt.Errorf("seed quota: %w", err)
	}
	return user, nil
}

func (s *service) Login(ctx context.Context, email, password string) (string, error) {
	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		return "", err
	}
	if user == nil {
		return "", ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}
	return s.issueToken(user)
}

func (s *service) issueToken(user *models.User) (string, error) {
	now := time.Now()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID.String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		AccountID: user.AccountID.String(),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return tok.SignedString(s.secret)
}

func (s *service) ValidateToken(_ context.Context, token string) (Identity, error) {
	tok, err := jwt.ParseWithClaims(token, &claims{}, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	if err != nil {
		return Identity{}, err
	}
	c, ok := tok.Claims.(*claims)
	if !ok || !tok.Valid {
		return Identity{}, errors.New("invalid token")
	}
	userID, err := uuid.Parse(c.Subject)
	if err != nil {
		return Identity{}, err
	}
	accountID, err := uuid.Parse(c.AccountID)
	if err != nil {
		return Identity{}, err
	}
	return Identity{UserID: userID, AccountID: accountID}, nil
}
