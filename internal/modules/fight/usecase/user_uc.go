package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/alferparedes26yanez-art/espuelabrava/internal/modules/fight/domain"
	"github.com/alferparedes26yanez-art/espuelabrava/pkg/logger"
)

// Claims is what a validated token says about its bearer
type Claims struct {
	Username  string
	Role      domain.Role
	ExpiresAt time.Time
}

// UserUseCase handles accounts and authentication
type UserUseCase struct {
	store         domain.Store
	jwtSecret     []byte
	tokenDuration time.Duration
	bcryptCost    int
}

// NewUserUseCase creates a new user use case. A zero bcryptCost means bcrypt.DefaultCost.
func NewUserUseCase(store domain.Store, jwtSecret string, tokenDuration time.Duration, bcryptCost int) *UserUseCase {
	if bcryptCost == 0 {
		bcryptCost = bcrypt.DefaultCost
	}
	return &UserUseCase{
		store:         store,
		jwtSecret:     []byte(jwtSecret),
		tokenDuration: tokenDuration,
		bcryptCost:    bcryptCost,
	}
}

// Login checks the credentials and issues a bearer token. Unknown users
// and wrong passwords produce the same error.
func (uc *UserUseCase) Login(ctx context.Context, username, password string) (*domain.User, string, time.Time, error) {
	user, err := uc.store.GetUser(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, "", time.Time{}, domain.ErrUnauthorized
		}
		return nil, "", time.Time{}, domain.WrapStoreError("get user", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		logger.Warn(ctx).Str("username", user.Username).Msg("login failed")
		return nil, "", time.Time{}, domain.ErrUnauthorized
	}

	token, expiresAt, err := uc.generateToken(user)
	if err != nil {
		return nil, "", time.Time{}, fmt.Errorf("failed to generate token: %w", err)
	}

	logger.Info(ctx).Str("username", user.Username).Str("role", string(user.Role)).Msg("login")
	return user, token, expiresAt, nil
}

// ValidateToken parses a bearer token
func (uc *UserUseCase) ValidateToken(ctx context.Context, tokenString string) (*Claims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return uc.jwtSecret, nil
	}, jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrUnauthorized, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("%w: invalid token claims", domain.ErrUnauthorized)
	}

	username, _ := claims["username"].(string)
	role, _ := claims["role"].(string)
	exp, err := claims.GetExpirationTime()
	if username == "" || role == "" || err != nil || exp == nil {
		return nil, fmt.Errorf("%w: incomplete token claims", domain.ErrUnauthorized)
	}

	return &Claims{
		Username:  username,
		Role:      domain.Role(role),
		ExpiresAt: exp.Time,
	}, nil
}

func (uc *UserUseCase) generateToken(user *domain.User) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(uc.tokenDuration)

	claims := jwt.MapClaims{
		"username": user.Username,
		"role":     string(user.Role),
		"exp":      expiresAt.Unix(),
		"iat":      now.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(uc.jwtSecret)
	if err != nil {
		return "", time.Time{}, err
	}
	return tokenString, expiresAt, nil
}

// CreateUser registers a participant with a zero balance
func (uc *UserUseCase) CreateUser(ctx context.Context, name, username, password string) (*domain.User, error) {
	return uc.createUser(ctx, name, username, password, domain.RoleParticipant)
}

func (uc *UserUseCase) createUser(ctx context.Context, name, username, password string, role domain.Role) (*domain.User, error) {
	name = strings.TrimSpace(name)
	username = strings.TrimSpace(username)
	if name == "" || username == "" || password == "" {
		return nil, fmt.Errorf("%w: name, username and password are required", domain.ErrInvalidArgument)
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), uc.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &domain.User{
		Username:     username,
		Name:         name,
		PasswordHash: string(hashed),
		Balance:      decimal.Zero,
		Role:         role,
		CreatedAt:    time.Now(),
	}

	err = uc.store.Atomic(ctx, func(repo domain.Repository) error {
		_, err := repo.GetUser(ctx, username)
		switch {
		case err == nil:
			return fmt.Errorf("%w: user %s", domain.ErrConflict, username)
		case !errors.Is(err, domain.ErrNotFound):
			return err
		}
		return repo.CreateUser(ctx, user)
	})
	if err != nil {
		return nil, domain.WrapStoreError("create user", err)
	}

	logger.Info(ctx).Str("new_user", username).Str("role", string(role)).Msg("user created")
	return user, nil
}

// GetUser returns one account
func (uc *UserUseCase) GetUser(ctx context.Context, username string) (*domain.User, error) {
	user, err := uc.store.GetUser(ctx, username)
	if err != nil {
		return nil, domain.WrapStoreError("get user", err)
	}
	return user, nil
}

// ListParticipants returns every participant sorted by username
func (uc *UserUseCase) ListParticipants(ctx context.Context) ([]*domain.User, error) {
	users, err := uc.store.ListUsers(ctx, domain.RoleParticipant)
	if err != nil {
		return nil, domain.WrapStoreError("list users", err)
	}
	return users, nil
}

// EnsureOperator creates the operator account on first start
func (uc *UserUseCase) EnsureOperator(ctx context.Context, username, password, name string) error {
	_, err := uc.store.GetUser(ctx, username)
	if err == nil {
		return nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.WrapStoreError("get user", err)
	}

	_, err = uc.createUser(ctx, name, username, password, domain.RoleOperator)
	if errors.Is(err, domain.ErrConflict) {
		return nil
	}
	return err
}
