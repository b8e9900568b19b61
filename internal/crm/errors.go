package crm

import (
	"errors"
	"fmt"
)

// ErrJoin marks a customer-orders join that failed because one nested
// orders fetch failed.
var ErrJoin = errors.New("join failure")

// JoinError is the terminal error of CustomerOrders when the orders fetch
// for CustomerID failed. errors.Is matches both ErrJoin and the cause.
type JoinError struct {
	CustomerID int
	Err        error
}

func (e *JoinError) Error() string {
	return fmt.Sprintf("%v: customer %d: %v", ErrJoin, e.CustomerID, e.Err)
}

func (e *JoinError) Unwrap() []error {
	return []error{ErrJoin, e.Err}
}
