package users

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

type staticIDGenerator struct {
	ids   []string
	index int
}

func (g *staticIDGenerator) NewID() (string, error) {
	if g.index >= len(g.ids) {
		return "", errors.New("exhausted ids")
	}
	id := g.ids[g.index]
	g.index++
	return id, nil
}

func newTestService(t *testing.T, ids []string) (*Service, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:knowledgehub_users_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&User{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	generator := &staticIDGenerator{ids: ids}
	clock := func() time.Time { return time.Unix(1700000600, 0).UTC() }

	service, err := NewService(ServiceConfig{
		Database:   db,
		IDProvider: generator,
		Clock:      clock,
		BcryptCost: bcrypt.MinCost,
	})
	if err != nil {
		t.Fatalf("failed to construct users service: %v", err)
	}

	return service, db
}

func mustRegister(t *testing.T, service *Service, username, email, password string, role Role) *User {
	t.Helper()
	account, err := service.Register(context.Background(), RegisterInput{
		Username:        username,
		Email:           email,
		Password:        password,
		PasswordConfirm: password,
		Role:            role,
	})
	if err != nil {
		t.Fatalf("unexpected register error: %v", err)
	}
	return account
}

func TestRegisterCreatesViewerByDefault(t *testing.T) {
	service, db := newTestService(t, []string{"user-1"})

	account, err := service.Register(context.Background(), RegisterInput{
		Username:        "  alice  ",
		Email:           "alice@example.com",
		FirstName:       "Alice",
		LastName:        "Liddell",
		Password:        "wonderland",
		PasswordConfirm: "wonderland",
	})
	if err != nil {
		t.Fatalf("unexpected register error: %v", err)
	}
	if account.ID != "user-1" {
		t.Fatalf("unexpected id: %s", account.ID)
	}
	if account.Username != "alice" {
		t.Fatalf("expected trimmed username, got %q", account.Username)
	}
	if account.Role != RoleViewer {
		t.Fatalf("expected default viewer role, got %s", account.Role)
	}
	if account.PasswordHash == "wonderland" {
		t.Fatalf("expected password to be hashed")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte("wonderland")); err != nil {
		t.Fatalf("stored hash does not verify: %v", err)
	}

	var stored User
	if err := db.First(&stored, "id = ?", "user-1").Error; err != nil {
		t.Fatalf("failed to load stored account: %v", err)
	}
	if stored.FullName() != "Alice Liddell" {
		t.Fatalf("unexpected full name: %q", stored.FullName())
	}
}

func TestRegisterRejectsPasswordMismatch(t *testing.T) {
	service, _ := newTestService(t, []string{"user-1"})

	_, err := service.Register(context.Background(), RegisterInput{
		Username:        "bob",
		Email:           "bob@example.com",
		Password:        "secret",
		PasswordConfirm: "different",
	})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestRegisterRejectsUnknownRole(t *testing.T) {
	service, _ := newTestService(t, []string{"user-1"})

	_, err := service.Register(context.Background(), RegisterInput{
		Username:        "bob",
		Email:           "bob@example.com",
		Password:        "secret",
		PasswordConfirm: "secret",
		Role:            "superuser",
	})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestRegisterRejectsDuplicateUsername(t *testing.T) {
	service, _ := newTestService(t, []string{"user-1", "user-2"})

	mustRegister(t, service, "carol", "carol@example.com", "secret", RoleEditor)

	_, err := service.Register(context.Background(), RegisterInput{
		Username:        "carol",
		Email:           "other@example.com",
		Password:        "secret",
		PasswordConfirm: "secret",
	})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestAuthenticateVerifiesCredentials(t *testing.T) {
	service, _ := newTestService(t, []string{"user-1"})

	mustRegister(t, service, "dave", "dave@example.com", "hunter2", RoleEditor)

	account, err := service.Authenticate(context.Background(), "dave", "hunter2")
	if err != nil {
		t.Fatalf("unexpected authenticate error: %v", err)
	}
	if account.Username != "dave" {
		t.Fatalf("unexpected account: %s", account.Username)
	}

	if _, err := service.Authenticate(context.Background(), "dave", "hunter3"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for wrong password, got %v", err)
	}
	if _, err := service.Authenticate(context.Background(), "nobody", "hunter2"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for unknown username, got %v", err)
	}
}

func TestChangePasswordVerifiesOldPassword(t *testing.T) {
	service, _ := newTestService(t, []string{"user-1"})

	account := mustRegister(t, service, "erin", "erin@example.com", "original", RoleViewer)

	err := service.ChangePassword(context.Background(), account.ID, "wrong", "rotated", "rotated")
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for wrong old password, got %v", err)
	}

	err = service.ChangePassword(context.Background(), account.ID, "original", "rotated", "rotated")
	if err != nil {
		t.Fatalf("unexpected change password error: %v", err)
	}

	if _, err := service.Authenticate(context.Background(), "erin", "original"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected old password to stop working, got %v", err)
	}
	if _, err := service.Authenticate(context.Background(), "erin", "rotated"); err != nil {
		t.Fatalf("expected new password to work: %v", err)
	}
}

func TestChangePasswordRejectsConfirmationMismatch(t *testing.T) {
	service, _ := newTestService(t, []string{"user-1"})

	account := mustRegister(t, service, "frank", "frank@example.com", "original", RoleViewer)

	err := service.ChangePassword(context.Background(), account.ID, "original", "rotated", "rotated-differently")
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestUpdateProfileAppliesPartialUpdates(t *testing.T) {
	service, _ := newTestService(t, []string{"user-1"})

	account := mustRegister(t, service, "grace", "grace@example.com", "secret", RoleEditor)

	bio := "Distributed systems, mostly."
	firstName := "Grace"
	updated, err := service.UpdateProfile(context.Background(), account.ID, UpdateProfileInput{
		FirstName: &firstName,
		Bio:       &bio,
	})
	if err != nil {
		t.Fatalf("unexpected update error: %v", err)
	}
	if updated.FirstName != "Grace" {
		t.Fatalf("unexpected first name: %q", updated.FirstName)
	}
	if updated.Bio != bio {
		t.Fatalf("unexpected bio: %q", updated.Bio)
	}
	if updated.Email != "grace@example.com" {
		t.Fatalf("expected email untouched, got %q", updated.Email)
	}
}

func TestUpdateProfileRejectsDuplicateEmail(t *testing.T) {
	service, _ := newTestService(t, []string{"user-1", "user-2"})

	mustRegister(t, service, "heidi", "heidi@example.com", "secret", RoleViewer)
	other := mustRegister(t, service, "ivan", "ivan@example.com", "secret", RoleViewer)

	email := "heidi@example.com"
	_, err := service.UpdateProfile(context.Background(), other.ID, UpdateProfileInput{Email: &email})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestGetByIDReturnsNotFound(t *testing.T) {
	service, _ := newTestService(t, nil)

	if _, err := service.GetByID(context.Background(), "user-missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRoleCapabilities(t *testing.T) {
	admin := &User{Role: RoleAdmin}
	editor := &User{Role: RoleEditor}
	viewer := &User{Role: RoleViewer}

	if !admin.CanEdit() || !admin.CanAdmin() {
		t.Fatalf("expected admin to edit and administer")
	}
	if !editor.CanEdit() || editor.CanAdmin() {
		t.Fatalf("expected editor to edit but not administer")
	}
	if viewer.CanEdit() || viewer.CanAdmin() {
		t.Fatalf("expected viewer to do neither")
	}

	principal := PrincipalFor(editor)
	if principal.Role != RoleEditor {
		t.Fatalf("unexpected principal role: %s", principal.Role)
	}
}
