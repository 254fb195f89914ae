package models

import (
	"gorm.io/gorm"
)

type UserRole string

const (
	UserRolePassenger UserRole = "passenger"
	UserRoleDriver    UserRole = "driver"
	UserRoleAdmin     UserRole = "admin"
)

// Valid reports whether r is one of the known roles.
func (r UserRole) Valid() bool {
	switch r {
	case UserRolePassenger, UserRoleDriver, UserRoleAdmin:
		return true
	}
	return false
}

// User mirrors the identity provider's user record. Credentials live with
// the provider; only contact details used for notifications are kept here.
type User struct {
	gorm.Model
	Username    string   `gorm:"column:username" json:"username"`
	PhoneNumber string   `gorm:"column:phone_number" json:"phoneNumber"`
	Role        UserRole `gorm:"column:role;not null;default:'passenger'" json:"role"`
	FCMToken    string   `gorm:"column:fcm_token" json:"-"`
}

// TableName specifies the table name
func (User) TableName() string {
	return "users"
}

// IsDriver is derived from Role; there is no separate flag to keep in sync.
func (u *User) IsDriver() bool {
	return u.Role == UserRoleDriver
}

// Principal is the authenticated (userId, role) pair attached to a request.
type Principal struct {
	UserID uint
	Role   UserRole
}

func (p Principal) IsDriver() bool {
	return p.Role == UserRoleDriver
}
