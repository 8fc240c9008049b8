package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

var (
	// ErrNotFound indicates no account matches the lookup.
	ErrNotFound = errors.New("users: not found")
	// ErrValidation indicates a write violates a field constraint.
	ErrValidation = errors.New("users: validation failed")

	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

// ServiceError wraps an underlying failure with a dotted operation code.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the dotted operation code identifying the failure site.
func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew      = "users.service.new"
	opRegister        = "users.register"
	opAuthenticate    = "users.authenticate"
	opChangePassword  = "users.change_password"
	opUpdateProfile   = "users.update_profile"
	opGetByID         = "users.get_by_id"
	opGetByUsername   = "users.get_by_username"
	defaultBcryptCost = bcrypt.DefaultCost
)

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// IDProvider issues primary-key identifiers for new accounts.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig describes the dependencies required by the account service.
type ServiceConfig struct {
	Database   *gorm.DB
	IDProvider IDProvider
	Clock      func() time.Time
	// BcryptCost controls password hashing work factor; zero selects the
	// bcrypt default.
	BcryptCost int
	Logger     *zap.Logger
}

// Service manages user accounts and credentials.
type Service struct {
	db         *gorm.DB
	idProvider IDProvider
	clock      func() time.Time
	bcryptCost int
	logger     *zap.Logger
}

// NewService constructs the account service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	cost := cfg.BcryptCost
	if cost == 0 {
		cost = defaultBcryptCost
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:         cfg.Database,
		idProvider: cfg.IDProvider,
		clock:      clock,
		bcryptCost: cost,
		logger:     logger,
	}, nil
}

// RegisterInput carries the already-validated field values for registration.
type RegisterInput struct {
	Username        string
	Email           string
	FirstName       string
	LastName        string
	Password        string
	PasswordConfirm string
	Role            Role
}

// Register creates a new account. Password and confirmation must match and
// username/email must be unused.
func (s *Service) Register(ctx context.Context, input RegisterInput) (*User, error) {
	username := strings.TrimSpace(input.Username)
	email := strings.TrimSpace(input.Email)
	if username == "" {
		return nil, newServiceError(opRegister, "missing_username", fmt.Errorf("%w: username is required", ErrValidation))
	}
	if email == "" {
		return nil, newServiceError(opRegister, "missing_email", fmt.Errorf("%w: email is required", ErrValidation))
	}
	if input.Password == "" {
		return nil, newServiceError(opRegister, "missing_password", fmt.Errorf("%w: password is required", ErrValidation))
	}
	if input.Password != input.PasswordConfirm {
		return nil, newServiceError(opRegister, "password_mismatch",
			fmt.Errorf("%w: password and password confirmation do not match", ErrValidation))
	}

	role := input.Role
	if role == "" {
		role = RoleViewer
	}
	if !role.Valid() {
		return nil, newServiceError(opRegister, "invalid_role", fmt.Errorf("%w: unknown role %q", ErrValidation, role))
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), s.bcryptCost)
	if err != nil {
		s.logError(opRegister, "hash_failed", err, zap.String("username", username))
		return nil, newServiceError(opRegister, "hash_failed", err)
	}

	id, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opRegister, "id_generation_failed", err)
		return nil, newServiceError(opRegister, "id_generation_failed", err)
	}

	account := &User{
		ID:           id,
		Username:     username,
		Email:        email,
		FirstName:    strings.TrimSpace(input.FirstName),
		LastName:     strings.TrimSpace(input.LastName),
		PasswordHash: string(hash),
		Role:         role,
	}

	if err := s.db.WithContext(ctx).Create(account).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, newServiceError(opRegister, "duplicate_account",
				fmt.Errorf("%w: username or email already in use", ErrValidation))
		}
		s.logError(opRegister, "insert_failed", err, zap.String("username", username))
		return nil, newServiceError(opRegister, "insert_failed", err)
	}

	return account, nil
}

// Authenticate verifies credentials and returns the matching account.
func (s *Service) Authenticate(ctx context.Context, username, password string) (*User, error) {
	account, err := s.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, newServiceError(opAuthenticate, "bad_credentials",
				fmt.Errorf("%w: unknown username or wrong password", ErrValidation))
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		return nil, newServiceError(opAuthenticate, "bad_credentials",
			fmt.Errorf("%w: unknown username or wrong password", ErrValidation))
	}

	return account, nil
}

// ChangePassword rotates an account password after verifying the old one.
func (s *Service) ChangePassword(ctx context.Context, userID, oldPassword, newPassword, newPasswordConfirm string) error {
	if newPassword == "" {
		return newServiceError(opChangePassword, "missing_password", fmt.Errorf("%w: new password is required", ErrValidation))
	}
	if newPassword != newPasswordConfirm {
		return newServiceError(opChangePassword, "password_mismatch",
			fmt.Errorf("%w: new password and confirmation do not match", ErrValidation))
	}

	account, err := s.GetByID(ctx, userID)
	if err != nil {
		return err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(oldPassword)); err != nil {
		return newServiceError(opChangePassword, "old_password_mismatch",
			fmt.Errorf("%w: old password is incorrect", ErrValidation))
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), s.bcryptCost)
	if err != nil {
		s.logError(opChangePassword, "hash_failed", err, zap.String("user_id", userID))
		return newServiceError(opChangePassword, "hash_failed", err)
	}

	if err := s.db.WithContext(ctx).Model(&User{}).
		Where("id = ?", userID).
		Update("password_hash", string(hash)).Error; err != nil {
		s.logError(opChangePassword, "update_failed", err, zap.String("user_id", userID))
		return newServiceError(opChangePassword, "update_failed", err)
	}

	return nil
}

// UpdateProfileInput carries optional profile fields; nil leaves a field untouched.
type UpdateProfileInput struct {
	FirstName *string
	LastName  *string
	Email     *string
	Bio       *string
	AvatarURL *string
}

// UpdateProfile applies partial profile updates. Email uniqueness is re-checked
// excluding the account itself.
func (s *Service) UpdateProfile(ctx context.Context, userID string, input UpdateProfileInput) (*User, error) {
	account, err := s.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{}
	if input.FirstName != nil {
		updates["first_name"] = strings.TrimSpace(*input.FirstName)
	}
	if input.LastName != nil {
		updates["last_name"] = strings.TrimSpace(*input.LastName)
	}
	if input.Bio != nil {
		updates["bio"] = *input.Bio
	}
	if input.AvatarURL != nil {
		updates["avatar_url"] = strings.TrimSpace(*input.AvatarURL)
	}
	if input.Email != nil {
		email := strings.TrimSpace(*input.Email)
		if email == "" {
			return nil, newServiceError(opUpdateProfile, "missing_email", fmt.Errorf("%w: email is required", ErrValidation))
		}
		var clashes int64
		if err := s.db.WithContext(ctx).Model(&User{}).
			Where("email = ? AND id <> ?", email, userID).
			Count(&clashes).Error; err != nil {
			s.logError(opUpdateProfile, "email_check_failed", err, zap.String("user_id", userID))
			return nil, newServiceError(opUpdateProfile, "email_check_failed", err)
		}
		if clashes > 0 {
			return nil, newServiceError(opUpdateProfile, "duplicate_email",
				fmt.Errorf("%w: a user with this email already exists", ErrValidation))
		}
		updates["email"] = email
	}

	if len(updates) == 0 {
		return account, nil
	}

	if err := s.db.WithContext(ctx).Model(account).Updates(updates).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, newServiceError(opUpdateProfile, "duplicate_email",
				fmt.Errorf("%w: a user with this email already exists", ErrValidation))
		}
		s.logError(opUpdateProfile, "update_failed", err, zap.String("user_id", userID))
		return nil, newServiceError(opUpdateProfile, "update_failed", err)
	}

	return s.GetByID(ctx, userID)
}

// GetByID loads an account by primary key.
func (s *Service) GetByID(ctx context.Context, userID string) (*User, error) {
	var account User
	err := s.db.WithContext(ctx).Where("id = ?", userID).Take(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, newServiceError(opGetByID, "not_found", fmt.Errorf("%w: user %s", ErrNotFound, userID))
	}
	if err != nil {
		s.logError(opGetByID, "query_failed", err, zap.String("user_id", userID))
		return nil, newServiceError(opGetByID, "query_failed", err)
	}
	return &account, nil
}

// GetByUsername loads an account by its unique username.
func (s *Service) GetByUsername(ctx context.Context, username string) (*User, error) {
	var account User
	err := s.db.WithContext(ctx).Where("username = ?", strings.TrimSpace(username)).Take(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, newServiceError(opGetByUsername, "not_found", fmt.Errorf("%w: user %q", ErrNotFound, username))
	}
	if err != nil {
		s.logError(opGetByUsername, "query_failed", err, zap.String("username", username))
		return nil, newServiceError(opGetByUsername, "query_failed", err)
	}
	return &account, nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("users service error", attrs...)
}

// isUniqueViolation detects unique-index conflicts across the drivers the
// store may run on.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value")
}
