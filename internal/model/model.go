// Package model holds the records shared by the dispatch subsystem. Orders,
// products and accounts are owned by the storefront; this service reads them
// and flips the order notified flag.
package model

import (
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// PlaceholderImage marks products created from the catalog feed.
const PlaceholderImage = "📦"

type Order struct {
	ID          int64
	BuyerID     int64
	BuyerName   string
	ProductID   int64
	ProductName string
	Quantity    int
	TotalPrice  int64
	Status      string
	Notified    bool
	CreatedAt   time.Time
}

type Product struct {
	ID          int64
	Name        string
	Price       int64
	Description string
	Image       string
	CreatedAt   time.Time
}

type Tier string

const (
	TierGroup Tier = "group"
	TierUser  Tier = "user"
)

// Recipient is a chat address subscribed to notifications.
type Recipient struct {
	ChatID       int64
	DisplayName  string
	Username     string // bound account, empty for pass-phrase logins
	Tier         Tier
	RegisteredAt time.Time
}

const (
	RoleAdmin   = "admin"
	RolePartner = "partner"
	RoleUser    = "user"
)

type Account struct {
	ID           int64
	Username     string
	PasswordHash string
	Role         string
	CreatedAt    time.Time
}

// VerifyPassword reports whether plain matches the stored bcrypt hash.
func (a Account) VerifyPassword(plain string) bool {
	if a.PasswordHash == "" || plain == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(a.PasswordHash), []byte(plain)) == nil
}

// HasRole reports whether the account role is one of roles (case-insensitive).
func (a Account) HasRole(roles ...string) bool {
	for _, r := range roles {
		if strings.EqualFold(strings.TrimSpace(r), a.Role) {
			return true
		}
	}
	return false
}

// HashPassword returns a bcrypt hash suitable for Account.PasswordHash.
func HashPassword(plain string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
