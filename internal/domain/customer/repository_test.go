package customer

import (
	"context"

	"github.com/stretchr/testify/mock"
)

type MockCustomerRepository struct {
	mock.Mock
}

var _ Repository = (*MockCustomerRepository)(nil)

func (_m *MockCustomerRepository) Save(ctx context.Context, customer *Customer) error {
	ret := _m.Called(ctx, customer)

	var r0 error
	if rf, ok := ret.Get(0).(func(context.Context, *Customer) error); ok {
		r0 = rf(ctx, customer)
	} else {
		r0 = ret.Error(0)
	}

	return r0
}

func (_m *MockCustomerRepository) FindByID(ctx context.Context, customerID int64) (*Customer, error) {
	ret := _m.Called(ctx, customerID)

	var r0 *Customer
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*Customer)
	}

	return r0, ret.Error(1)
}

func (_m *MockCustomerRepository) FindByEmail(ctx context.Context, email string) (*Customer, error) {
	ret := _m.Called(ctx, email)

	var r0 *Customer
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*Customer)
	}

	return r0, ret.Error(1)
}

func (_m *MockCustomerRepository) SaveProfile(ctx context.Context, profile *Profile) error {
	ret := _m.Called(ctx, profile)
	return ret.Error(0)
}

func (_m *MockCustomerRepository) FindProfile(ctx context.Context, customerID int64) (*Profile, error) {
	ret := _m.Called(ctx, customerID)

	var r0 *Profile
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*Profile)
	}

	return r0, ret.Error(1)
}

func (_m *MockCustomerRepository) AddAccount(ctx context.Context, customerID, accountID int64) error {
	ret := _m.Called(ctx, customerID, accountID)
	return ret.Error(0)
}

func (_m *MockCustomerRepository) RemoveAccount(ctx context.Context, customerID, accountID int64) error {
	ret := _m.Called(ctx, customerID, accountID)
	return ret.Error(0)
}

func (_m *MockCustomerRepository) AccountIDs(ctx context.Context, customerID int64) ([]int64, error) {
	ret := _m.Called(ctx, customerID)

	var r0 []int64
	if ret.Get(0) != nil {
		r0 = ret.Get(0).([]int64)
	}

	return r0, ret.Error(1)
}
