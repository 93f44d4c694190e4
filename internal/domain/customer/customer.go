package customer

import (
	"fmt"
	"time"

	"ledger-engine/internal/pkg/apperrors"
)

type Status string

const (
	StatusPending Status = "PENDING"
	StatusActive  Status = "ACTIVE"
	StatusFrozen  Status = "FROZEN"
	StatusDeleted Status = "DELETED"
)

type KYCStatus string

const (
	KYCPending  KYCStatus = "PENDING"
	KYCVerified KYCStatus = "VERIFIED"
)

type Customer struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	Email      string    `json:"email"`
	Status     Status    `json:"status"`
	AccountIDs []int64   `json:"accountIds,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Profile belongs to exactly one customer. Identity fields are frozen once
// KYC is verified; contact fields stay editable.
type Profile struct {
	CustomerID  int64     `json:"customerId"`
	KYCStatus   KYCStatus `json:"kycStatus"`
	TaxID       string    `json:"taxId,omitempty"`
	Nationality string    `json:"nationality,omitempty"`
	DateOfBirth time.Time `json:"dateOfBirth,omitempty"`
	Phone       string    `json:"phone,omitempty"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type Identity struct {
	TaxID       string
	Nationality string
	DateOfBirth time.Time
}

func NewCustomer(name, email string) *Customer {
	now := time.Now()
	return &Customer{
		Name:      name,
		Email:     email,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func NewProfile(customerID int64) *Profile {
	return &Profile{
		CustomerID: customerID,
		KYCStatus:  KYCPending,
		UpdatedAt:  time.Now(),
	}
}

func (c *Customer) IsDeleted() bool {
	return c.Status == StatusDeleted
}

func (c *Customer) Activate(now time.Time) error {
	switch c.Status {
	case StatusActive:
		return nil
	case StatusPending, StatusFrozen:
		c.Status = StatusActive
		c.UpdatedAt = now
		return nil
	}
	return fmt.Errorf("%w: cannot activate customer %d in status %s", apperrors.ErrInvalidState, c.ID, c.Status)
}

func (c *Customer) Freeze(now time.Time) error {
	if c.Status != StatusActive {
		return fmt.Errorf("%w: cannot freeze customer %d in status %s", apperrors.ErrInvalidState, c.ID, c.Status)
	}
	c.Status = StatusFrozen
	c.UpdatedAt = now
	return nil
}

// SoftDelete marks the customer deleted. Records are never removed.
func (c *Customer) SoftDelete(now time.Time) error {
	if c.IsDeleted() {
		return fmt.Errorf("%w: customer %d is already deleted", apperrors.ErrInvalidState, c.ID)
	}
	c.Status = StatusDeleted
	c.UpdatedAt = now
	return nil
}

func (c *Customer) HasAccount(accountID int64) bool {
	for _, id := range c.AccountIDs {
		if id == accountID {
			return true
		}
	}
	return false
}

func (p *Profile) Verified() bool {
	return p.KYCStatus == KYCVerified
}

// CompleteKYC records identity details and marks the profile verified.
func (p *Profile) CompleteKYC(id Identity, now time.Time) error {
	if p.Verified() {
		return fmt.Errorf("%w: profile of customer %d is already verified", apperrors.ErrInvalidState, p.CustomerID)
	}
	p.TaxID = id.TaxID
	p.Nationality = id.Nationality
	p.DateOfBirth = id.DateOfBirth
	p.KYCStatus = KYCVerified
	p.UpdatedAt = now
	return nil
}

func (p *Profile) UpdateContact(phone string, now time.Time) {
	if p.Phone != phone {
		p.Phone = phone
		p.UpdatedAt = now
	}
}
