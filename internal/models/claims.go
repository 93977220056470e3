package models

import (
	"slices"

	"github.com/golang-jwt/jwt/v5"
)

// Application permissions
const (
	PermissionWalletRead       = "wallet:read"
	PermissionTransactionRead  = "transaction:read"
	PermissionTransactionWrite = "transaction:write"
	PermissionCashOut          = "cash:out"
	PermissionLedgerAdmin      = "ledger:admin"
)

// UserClaims are the bearer token claims issued by the auth service.
type UserClaims struct {
	jwt.RegisteredClaims
	UserID      string   `json:"user_id"`
	Email       string   `json:"email"`
	Role        string   `json:"role"`
	Permissions []string `json:"permissions"`
}

// HasPermission checks if the claims include a specific permission
func (c *UserClaims) HasPermission(permission string) bool {
	return slices.Contains(c.Permissions, permission)
}

// GetDefaultPermissions returns default permissions based on role
func GetDefaultPermissions(role string) []string {
	switch role {
	case "admin":
		return []string{
			PermissionWalletRead,
			PermissionTransactionRead,
			PermissionTransactionWrite,
			PermissionCashOut,
			PermissionLedgerAdmin,
		}
	case "user", "merchant":
		return []string{
			PermissionWalletRead,
			PermissionTransactionRead,
			PermissionTransactionWrite,
			PermissionCashOut,
		}
	default:
		return []string{}
	}
}
