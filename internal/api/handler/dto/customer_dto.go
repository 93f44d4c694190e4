package dto

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"ledger-engine/internal/domain/customer"
)

const dateLayout = "2006-01-02"

type RegisterCustomerRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

func (r *RegisterCustomerRequest) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("name cannot be empty")
	}
	if strings.TrimSpace(r.Email) == "" {
		return fmt.Errorf("email cannot be empty")
	}
	return nil
}

type CompleteKYCRequest struct {
	TaxID       string `json:"taxId"`
	Nationality string `json:"nationality"`
	DateOfBirth string `json:"dateOfBirth"`
}

// Identity converts the request. DateOfBirth must be YYYY-MM-DD.
func (r *CompleteKYCRequest) Identity() (customer.Identity, error) {
	if strings.TrimSpace(r.TaxID) == "" {
		return customer.Identity{}, fmt.Errorf("taxId cannot be empty")
	}
	dob, err := time.Parse(dateLayout, r.DateOfBirth)
	if err != nil {
		return customer.Identity{}, fmt.Errorf("dateOfBirth must be formatted as %s", dateLayout)
	}
	return customer.Identity{
		TaxID:       strings.TrimSpace(r.TaxID),
		Nationality: strings.ToUpper(strings.TrimSpace(r.Nationality)),
		DateOfBirth: dob,
	}, nil
}

type UpdateContactRequest struct {
	Phone string `json:"phone"`
}

type LinkAccountRequest struct {
	AccountID int64 `json:"accountId"`
}

func (r *LinkAccountRequest) Validate() error {
	if r.AccountID <= 0 {
		return fmt.Errorf("accountId must be a positive number")
	}
	return nil
}

type CustomerResponse struct {
	CustomerID string    `json:"customerId"`
	Name       string    `json:"name"`
	Email      string    `json:"email"`
	Status     string    `json:"status"`
	AccountIDs []string  `json:"accountIds"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

func NewCustomerResponse(cust *customer.Customer) CustomerResponse {
	if cust == nil {
		return CustomerResponse{}
	}

	ids := make([]string, 0, len(cust.AccountIDs))
	for _, id := range cust.AccountIDs {
		ids = append(ids, strconv.FormatInt(id, 10))
	}

	return CustomerResponse{
		CustomerID: strconv.FormatInt(cust.ID, 10),
		Name:       cust.Name,
		Email:      cust.Email,
		Status:     string(cust.Status),
		AccountIDs: ids,
		CreatedAt:  cust.CreatedAt,
		UpdatedAt:  cust.UpdatedAt,
	}
}

type ProfileResponse struct {
	CustomerID  string    `json:"customerId"`
	KYCStatus   string    `json:"kycStatus"`
	TaxID       string    `json:"taxId,omitempty"`
	Nationality string    `json:"nationality,omitempty"`
	DateOfBirth string    `json:"dateOfBirth,omitempty"`
	Phone       string    `json:"phone,omitempty"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func NewProfileResponse(p *customer.Profile) ProfileResponse {
	if p == nil {
		return ProfileResponse{}
	}
	resp := ProfileResponse{
		CustomerID:  strconv.FormatInt(p.CustomerID, 10),
		KYCStatus:   string(p.KYCStatus),
		TaxID:       p.TaxID,
		Nationality: p.Nationality,
		Phone:       p.Phone,
		UpdatedAt:   p.UpdatedAt,
	}
	if !p.DateOfBirth.IsZero() {
		resp.DateOfBirth = p.DateOfBirth.Format(dateLayout)
	}
	return resp
}
