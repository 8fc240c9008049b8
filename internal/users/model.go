package users

import (
	"time"
)

// Role enumerates the system-wide capability tiers assigned to accounts.
type Role string

const (
	// RoleAdmin grants full administrative capability.
	RoleAdmin Role = "admin"
	// RoleEditor grants content authoring capability.
	RoleEditor Role = "editor"
	// RoleViewer is the default read-only tier.
	RoleViewer Role = "viewer"
)

// Valid reports whether the role is one of the known tiers.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleEditor, RoleViewer:
		return true
	}
	return false
}

// User models an account that authors and moderates content.
type User struct {
	ID           string    `gorm:"column:id;primaryKey;size:36;not null"`
	Username     string    `gorm:"column:username;size:150;not null;uniqueIndex"`
	Email        string    `gorm:"column:email;size:320;not null;uniqueIndex"`
	PasswordHash string    `gorm:"column:password_hash;size:100;not null"`
	FirstName    string    `gorm:"column:first_name;size:150"`
	LastName     string    `gorm:"column:last_name;size:150"`
	Role         Role      `gorm:"column:role;size:10;not null;default:'viewer'"`
	Bio          string    `gorm:"column:bio;type:text"`
	AvatarURL    string    `gorm:"column:avatar_url;size:512"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing user accounts.
func (User) TableName() string {
	return "users"
}

// IsAdmin reports whether the account holds the admin tier.
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// IsEditor reports whether the account holds the editor tier or higher.
func (u *User) IsEditor() bool {
	return u.Role == RoleAdmin || u.Role == RoleEditor
}

// CanEdit reports whether the account may author content.
func (u *User) CanEdit() bool {
	return u.IsEditor()
}

// CanAdmin reports whether the account may perform administrative operations.
func (u *User) CanAdmin() bool {
	return u.IsAdmin()
}

// FullName joins the name fields for display purposes.
func (u *User) FullName() string {
	switch {
	case u.FirstName == "":
		return u.LastName
	case u.LastName == "":
		return u.FirstName
	default:
		return u.FirstName + " " + u.LastName
	}
}

// Principal is the authenticated identity threaded through write operations
// in other packages. It carries only what authorization decisions need.
type Principal struct {
	UserID string
	Role   Role
}

// PrincipalFor derives the principal for an account.
func PrincipalFor(u *User) Principal {
	return Principal{UserID: u.ID, Role: u.Role}
}
