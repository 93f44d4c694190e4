package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"ledger-engine/internal/domain/customer"
	"ledger-engine/internal/pkg/apperrors"
)

type CustomerRepository struct {
	mu        sync.RWMutex
	customers map[int64]*customer.Customer
	profiles  map[int64]*customer.Profile
	byEmail   map[string]int64
	links     map[int64]map[int64]struct{}
	nextID    int64

	accounts *AccountRepository
	logger   *slog.Logger
}

var _ customer.Repository = (*CustomerRepository)(nil)

// NewCustomerRepository checks account links against accounts when it is non-nil.
func NewCustomerRepository(accounts *AccountRepository, logger *slog.Logger) *CustomerRepository {
	return &CustomerRepository{
		customers: make(map[int64]*customer.Customer),
		profiles:  make(map[int64]*customer.Profile),
		byEmail:   make(map[string]int64),
		links:     make(map[int64]map[int64]struct{}),
		accounts:  accounts,
		logger:    logger.With("component", "memory.CustomerRepository"),
	}
}

func copyCustomer(c *customer.Customer) *customer.Customer {
	cp := *c
	cp.AccountIDs = append([]int64(nil), c.AccountIDs...)
	return &cp
}

func (r *CustomerRepository) Save(_ context.Context, c *customer.Customer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if owner, taken := r.byEmail[c.Email]; taken && owner != c.ID {
		return fmt.Errorf("%w: email %s", apperrors.ErrAlreadyExists, c.Email)
	}

	now := time.Now()
	if c.ID == 0 {
		r.nextID++
		c.ID = r.nextID
		if c.CreatedAt.IsZero() {
			c.CreatedAt = now
		}
	} else {
		prev, ok := r.customers[c.ID]
		if !ok {
			return fmt.Errorf("%w: id %d", apperrors.ErrCustomerNotFound, c.ID)
		}
		if prev.Email != c.Email {
			delete(r.byEmail, prev.Email)
		}
	}
	c.UpdatedAt = now

	stored := copyCustomer(c)
	stored.AccountIDs = nil
	r.customers[c.ID] = stored
	r.byEmail[c.Email] = c.ID
	return nil
}

func (r *CustomerRepository) withAccounts(c *customer.Customer) *customer.Customer {
	out := copyCustomer(c)
	out.AccountIDs = r.accountIDsLocked(c.ID)
	return out
}

func (r *CustomerRepository) FindByID(_ context.Context, customerID int64) (*customer.Customer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.customers[customerID]
	if !ok {
		return nil, fmt.Errorf("%w: id %d", apperrors.ErrCustomerNotFound, customerID)
	}
	return r.withAccounts(c), nil
}

func (r *CustomerRepository) FindByEmail(ctx context.Context, email string) (*customer.Customer, error) {
	r.mu.RLock()
	id, ok := r.byEmail[email]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: email %s", apperrors.ErrCustomerNotFound, email)
	}
	return r.FindByID(ctx, id)
}

func (r *CustomerRepository) SaveProfile(_ context.Context, p *customer.Profile) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.customers[p.CustomerID]; !ok {
		return fmt.Errorf("%w: id %d", apperrors.ErrCustomerNotFound, p.CustomerID)
	}
	cp := *p
	r.profiles[p.CustomerID] = &cp
	return nil
}

func (r *CustomerRepository) FindProfile(_ context.Context, customerID int64) (*customer.Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.customers[customerID]; !ok {
		return nil, fmt.Errorf("%w: id %d", apperrors.ErrCustomerNotFound, customerID)
	}
	p, ok := r.profiles[customerID]
	if !ok {
		return nil, fmt.Errorf("%w: customer %d", apperrors.ErrProfileNotFound, customerID)
	}
	cp := *p
	return &cp, nil
}

func (r *CustomerRepository) AddAccount(ctx context.Context, customerID, accountID int64) error {
	if r.accounts != nil {
		if _, err := r.accounts.Load(ctx, accountID); err != nil {
			return err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.customers[customerID]; !ok {
		return fmt.Errorf("%w: id %d", apperrors.ErrCustomerNotFound, customerID)
	}
	set, ok := r.links[customerID]
	if !ok {
		set = make(map[int64]struct{})
		r.links[customerID] = set
	}
	set[accountID] = struct{}{}
	return nil
}

func (r *CustomerRepository) RemoveAccount(_ context.Context, customerID, accountID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.customers[customerID]; !ok {
		return fmt.Errorf("%w: id %d", apperrors.ErrCustomerNotFound, customerID)
	}
	delete(r.links[customerID], accountID)
	return nil
}

func (r *CustomerRepository) AccountIDs(_ context.Context, customerID int64) ([]int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.customers[customerID]; !ok {
		return nil, fmt.Errorf("%w: id %d", apperrors.ErrCustomerNotFound, customerID)
	}
	return r.accountIDsLocked(customerID), nil
}

func (r *CustomerRepository) accountIDsLocked(customerID int64) []int64 {
	set := r.links[customerID]
	if len(set) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
