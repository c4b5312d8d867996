package service

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"apoyo-citas/internal/domain"
	"apoyo-citas/internal/repository"
)

const minPasswordLen = 6

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrRateLimited        = errors.New("rate limited")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidEmail       = errors.New("invalid email")
	ErrWeakPassword       = errors.New("password too short")
	ErrEmailTaken         = errors.New("email already registered")
)

// UserService coordina reglas de negocio para usuarios.
type UserService struct {
	logger       *zap.Logger
	users        repository.UserRepository
	loginLimiter LoginRateLimiter
	adminEmails  map[string]struct{}
}

func NewUserService(logger *zap.Logger, users repository.UserRepository, loginLimiter LoginRateLimiter, adminEmails []string) *UserService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if loginLimiter == nil {
		loginLimiter = NewLoginRateLimiter(10*time.Minute, 5)
	}
	admins := make(map[string]struct{}, len(adminEmails))
	for _, e := range adminEmails {
		if e = normalizeEmail(e); e != "" {
			admins[e] = struct{}{}
		}
	}
	return &UserService{
		logger:       logger,
		users:        users,
		loginLimiter: loginLimiter,
		adminEmails:  admins,
	}
}

// Register crea una cuenta de estudiante. Los correos listados como admin
// reciben el rol de administrador.
func (s *UserService) Register(ctx context.Context, emailAddr, password string) (domain.User, error) {
	if s.users == nil {
		return domain.User{}, errors.New("user service not configured")
	}

	emailAddr = normalizeEmail(emailAddr)
	if !isValidEmail(emailAddr) {
		return domain.User{}, ErrInvalidEmail
	}
	if utf8.RuneCountInString(password) < minPasswordLen {
		return domain.User{}, ErrWeakPassword
	}

	hashBytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return domain.User{}, err
	}

	role := domain.RoleStudent
	if _, ok := s.adminEmails[emailAddr]; ok {
		role = domain.RoleAdmin
	}

	user := domain.User{
		ID:           uuid.NewString(),
		Email:        emailAddr,
		Role:         role,
		PasswordHash: string(hashBytes),
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return domain.User{}, ErrEmailTaken
		}
		return domain.User{}, err
	}

	s.logger.Info("user registered", zap.String("user_id", user.ID), zap.String("role", role))
	return user, nil
}

func (s *UserService) Authenticate(ctx context.Context, emailAddr, password string) (domain.User, error) {
	if s.users == nil {
		return domain.User{}, errors.New("user service not configured")
	}

	emailAddr = normalizeEmail(emailAddr)
	if emailAddr == "" || password == "" {
		return domain.User{}, ErrInvalidCredentials
	}
	if s.loginLimiter != nil && !s.loginLimiter.Allow(emailAddr) {
		s.logger.Warn("login rate limited", zap.String("email", emailAddr))
		return domain.User{}, ErrRateLimited
	}

	user, err := s.users.GetByEmail(ctx, emailAddr)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.User{}, ErrInvalidCredentials
		}
		return domain.User{}, err
	}
	if user.PasswordHash == "" {
		return domain.User{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return domain.User{}, ErrInvalidCredentials
	}
	return user, nil
}

func (s *UserService) GetByID(ctx context.Context, id string) (domain.User, error) {
	if s.users == nil {
		return domain.User{}, errors.New("user service not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.User{}, ErrUserNotFound
	}
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.User{}, ErrUserNotFound
		}
		return domain.User{}, err
	}
	return user, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func isValidEmail(email string) bool {
	if email == "" {
		return false
	}
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}
