package models

import "time"

// KYC verification statuses
const (
	KYCStatusPending  = "pending"
	KYCStatusApproved = "approved"
	KYCStatusRejected = "rejected"
)

// KYCVerification is an identity check outcome written by the onboarding flow.
// The ledger only reads approved rows to learn the user's tier.
type KYCVerification struct {
	ID         uint      `gorm:"primarykey"`
	UserID     string    `gorm:"size:64;not null;index"`
	Status     string    `gorm:"size:16;default:'pending'"`
	Tier       int       `gorm:"not null;default:0"`
	DocumentID string    `gorm:"size:128"`
	ReviewedAt *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
