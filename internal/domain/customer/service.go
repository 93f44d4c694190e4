package customer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"os"
	"strings"
	"time"

	"ledger-engine/internal/event"
	"ledger-engine/internal/pkg/apperrors"
)

const (
	inputValidationPassed = "Input validation passed"
	customerNotFound      = "Customer not found by repository"
)

type CustomerService interface {
	Register(ctx context.Context, name, email string) (*Customer, error)
	Get(ctx context.Context, customerID int64) (*Customer, error)
	GetProfile(ctx context.Context, customerID int64) (*Profile, error)
	CompleteKYC(ctx context.Context, customerID int64, id Identity) (*Profile, error)
	UpdateContact(ctx context.Context, customerID int64, phone string) error
	Activate(ctx context.Context, customerID int64) error
	Freeze(ctx context.Context, customerID int64) error
	SoftDelete(ctx context.Context, customerID int64) error
	AddAccountToCustomer(ctx context.Context, customerID, accountID int64) error
	RemoveAccountFromCustomer(ctx context.Context, customerID, accountID int64) error
	ListAccounts(ctx context.Context, customerID int64) ([]int64, error)
}

var _ CustomerService = (*customerService)(nil)

type customerService struct {
	repo     Repository
	notifier event.Notifier
	logger   *slog.Logger
}

func NewCustomerService(repo Repository, notifier event.Notifier, logger *slog.Logger) CustomerService {
	if repo == nil {
		panic("customer repository cannot be nil")
	}

	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
		logger.Warn("Warning: No logger provided to NewCustomerService, using default stderr handler")
	}

	if notifier == nil {
		notifier = event.Nop{}
	}

	return &customerService{
		repo:     repo,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "customerService")),
	}
}

func (s *customerService) publish(ctx context.Context, t event.Type, c *Customer) {
	e := event.New(t)
	e.CustomerID = c.ID
	e.Reason = string(c.Status)
	s.notifier.Notify(ctx, e)
}

func (s *customerService) Register(ctx context.Context, name, email string) (*Customer, error) {
	s.logger.InfoContext(ctx, "Attempting to register new customer")

	name = strings.TrimSpace(name)
	email = strings.ToLower(strings.TrimSpace(email))
	if name == "" {
		s.logger.WarnContext(ctx, "Validation failed: name is empty")
		return nil, apperrors.NewValidationError(apperrors.ErrValidation, "name", "customer name cannot be empty")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		s.logger.WarnContext(ctx, "Validation failed: email is malformed", slog.String("name", name))
		return nil, apperrors.NewValidationError(apperrors.ErrValidation, "email", "customer email is not a valid address")
	}

	log := s.logger.With(slog.String("email", email))
	log.InfoContext(ctx, inputValidationPassed)

	cust := NewCustomer(name, email)
	if err := s.repo.Save(ctx, cust); err != nil {
		if errors.Is(err, apperrors.ErrAlreadyExists) {
			log.WarnContext(ctx, "Email already registered")
			return nil, err
		}
		log.ErrorContext(ctx, "Repository failed to save new customer", slog.Any("error", err))
		return nil, fmt.Errorf("failed to save new customer: %w", err)
	}

	if err := s.repo.SaveProfile(ctx, NewProfile(cust.ID)); err != nil {
		log.ErrorContext(ctx, "Repository failed to save empty profile", slog.Any("error", err))
		return nil, fmt.Errorf("failed to save profile for customer %d: %w", cust.ID, err)
	}

	s.publish(ctx, event.TypeCustomerRegistered, cust)
	log.InfoContext(ctx, "Successfully registered new customer", slog.Int64("customerID", cust.ID))
	return cust, nil
}

func (s *customerService) Get(ctx context.Context, customerID int64) (*Customer, error) {
	cust, err := s.repo.FindByID(ctx, customerID)
	if err != nil {
		if errors.Is(err, apperrors.ErrCustomerNotFound) {
			s.logger.WarnContext(ctx, customerNotFound, slog.Int64("customerID", customerID))
			return nil, err
		}
		s.logger.ErrorContext(ctx, "Repository error finding customer", slog.Int64("customerID", customerID), slog.Any("error", err))
		return nil, fmt.Errorf("failed to get customer %d: %w", customerID, err)
	}
	return cust, nil
}

func (s *customerService) GetProfile(ctx context.Context, customerID int64) (*Profile, error) {
	profile, err := s.repo.FindProfile(ctx, customerID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, err
		}
		s.logger.ErrorContext(ctx, "Repository error finding profile", slog.Int64("customerID", customerID), slog.Any("error", err))
		return nil, fmt.Errorf("failed to get profile of customer %d: %w", customerID, err)
	}
	return profile, nil
}

func (s *customerService) CompleteKYC(ctx context.Context, customerID int64, id Identity) (*Profile, error) {
	log := s.logger.With(slog.Int64("customerID", customerID))

	if strings.TrimSpace(id.TaxID) == "" {
		return nil, apperrors.NewValidationError(apperrors.ErrValidation, "taxId", "tax id cannot be empty")
	}
	if id.DateOfBirth.IsZero() || id.DateOfBirth.After(time.Now()) {
		return nil, apperrors.NewValidationError(apperrors.ErrValidation, "dateOfBirth", "date of birth must be in the past")
	}

	cust, err := s.Get(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if cust.IsDeleted() {
		return nil, fmt.Errorf("%w: customer %d is deleted", apperrors.ErrInvalidState, customerID)
	}

	profile, err := s.GetProfile(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if err := profile.CompleteKYC(id, time.Now()); err != nil {
		log.WarnContext(ctx, "KYC completion rejected", slog.Any("error", err))
		return nil, err
	}
	if err := s.repo.SaveProfile(ctx, profile); err != nil {
		log.ErrorContext(ctx, "Repository failed to save verified profile", slog.Any("error", err))
		return nil, fmt.Errorf("failed to save profile of customer %d: %w", customerID, err)
	}

	s.publish(ctx, event.TypeCustomerUpdated, cust)
	log.InfoContext(ctx, "KYC verified")
	return profile, nil
}

func (s *customerService) UpdateContact(ctx context.Context, customerID int64, phone string) error {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return apperrors.NewValidationError(apperrors.ErrValidation, "phone", "phone cannot be empty")
	}

	profile, err := s.GetProfile(ctx, customerID)
	if err != nil {
		return err
	}
	if profile.Phone == phone {
		s.logger.InfoContext(ctx, "No contact change needed, skipping save", slog.Int64("customerID", customerID))
		return nil
	}
	profile.UpdateContact(phone, time.Now())

	if err := s.repo.SaveProfile(ctx, profile); err != nil {
		s.logger.ErrorContext(ctx, "Repository failed to save contact change", slog.Int64("customerID", customerID), slog.Any("error", err))
		return fmt.Errorf("failed to save contact of customer %d: %w", customerID, err)
	}
	return nil
}

func (s *customerService) transition(ctx context.Context, customerID int64, name string, apply func(*Customer, time.Time) error) error {
	log := s.logger.With(slog.Int64("customerID", customerID), slog.String("transition", name))

	cust, err := s.Get(ctx, customerID)
	if err != nil {
		return err
	}
	before := cust.Status
	if err := apply(cust, time.Now()); err != nil {
		log.WarnContext(ctx, "Status transition rejected", slog.Any("error", err))
		return err
	}
	if cust.Status == before {
		return nil
	}
	if err := s.repo.Save(ctx, cust); err != nil {
		log.ErrorContext(ctx, "Repository failed to save status change", slog.Any("error", err))
		return fmt.Errorf("failed to %s customer %d: %w", name, customerID, err)
	}

	s.publish(ctx, event.TypeCustomerUpdated, cust)
	log.InfoContext(ctx, "Customer status changed", slog.String("from", string(before)), slog.String("to", string(cust.Status)))
	return nil
}

func (s *customerService) Activate(ctx context.Context, customerID int64) error {
	return s.transition(ctx, customerID, "activate", (*Customer).Activate)
}

func (s *customerService) Freeze(ctx context.Context, customerID int64) error {
	return s.transition(ctx, customerID, "freeze", (*Customer).Freeze)
}

func (s *customerService) SoftDelete(ctx context.Context, customerID int64) error {
	return s.transition(ctx, customerID, "delete", (*Customer).SoftDelete)
}

func (s *customerService) AddAccountToCustomer(ctx context.Context, customerID, accountID int64) error {
	if accountID <= 0 {
		return apperrors.NewValidationError(apperrors.ErrInvalidArgument, "accountId", "account id must be positive")
	}
	cust, err := s.Get(ctx, customerID)
	if err != nil {
		return err
	}
	if cust.IsDeleted() {
		return fmt.Errorf("%w: customer %d is deleted", apperrors.ErrInvalidState, customerID)
	}
	if err := s.repo.AddAccount(ctx, customerID, accountID); err != nil {
		s.logger.ErrorContext(ctx, "Repository failed to link account", slog.Int64("customerID", customerID), slog.Int64("accountID", accountID), slog.Any("error", err))
		return fmt.Errorf("failed to link account %d to customer %d: %w", accountID, customerID, err)
	}
	s.logger.InfoContext(ctx, "Account linked to customer", slog.Int64("customerID", customerID), slog.Int64("accountID", accountID))
	return nil
}

func (s *customerService) RemoveAccountFromCustomer(ctx context.Context, customerID, accountID int64) error {
	if err := s.repo.RemoveAccount(ctx, customerID, accountID); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return err
		}
		s.logger.ErrorContext(ctx, "Repository failed to unlink account", slog.Int64("customerID", customerID), slog.Int64("accountID", accountID), slog.Any("error", err))
		return fmt.Errorf("failed to unlink account %d from customer %d: %w", accountID, customerID, err)
	}
	s.logger.InfoContext(ctx, "Account unlinked from customer", slog.Int64("customerID", customerID), slog.Int64("accountID", accountID))
	return nil
}

func (s *customerService) ListAccounts(ctx context.Context, customerID int64) ([]int64, error) {
	ids, err := s.repo.AccountIDs(ctx, customerID)
	if err != nil {
		if errors.Is(err, apperrors.ErrCustomerNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to list accounts of customer %d: %w", customerID, err)
	}
	return ids, nil
}
