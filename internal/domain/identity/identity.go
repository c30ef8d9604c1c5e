// Package identity describes customer identity data: profile and address book.
package identity

import (
	"context"

	"github.com/go-faster/errors"
)

var (
	// ErrCustomerNotFound is returned when the authenticated subject has no profile.
	ErrCustomerNotFound = errors.New("customer not found")
	// ErrAddressNotFound is returned when the address is not in the customer's address book.
	ErrAddressNotFound = errors.New("address not found")
)

// Customer is an authenticated customer.
type Customer struct {
	ID    string
	Name  string
	Email string
}

// Address is an address book entry. It is copied by value into orders.
type Address struct {
	ID         string `json:"id"`
	CustomerID string `json:"customerId"`
	Label      string `json:"label,omitempty"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	PostalCode string `json:"postalCode"`
	Phone      string `json:"phone,omitempty"`
}

// Repository looks up customers and their saved addresses.
type Repository interface {
	GetCustomer(ctx context.Context, id string) (*Customer, error)
	GetAddress(ctx context.Context, customerID, addressID string) (*Address, error)
}
