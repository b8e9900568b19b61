package crm

import (
	"encoding/json"
	"errors"
)

// Customer as listed by the customers service.
// swagger:model Customer
type Customer struct {
	ID   int    `json:"id" example:"1"`
	Name string `json:"name" example:"Ada"`
}

// Order as streamed by the orders service.
// swagger:model Order
type Order struct {
	ID         int `json:"id" example:"10"`
	CustomerID int `json:"customerId" example:"1"`
}

// CustomerOrders pairs a customer with every order the orders service
// streamed for it, in arrival order.
// swagger:model CustomerOrders
type CustomerOrders struct {
	Customer Customer `json:"customer"`
	Orders   []Order  `json:"orders"`
}

var (
	errMissingID         = errors.New("missing id")
	errMissingCustomerID = errors.New("missing customerId")
)

func (c *Customer) UnmarshalJSON(b []byte) error {
	var aux struct {
		ID   *int   `json:"id"`
		Name string `json:"name"`
	}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	if aux.ID == nil {
		return errMissingID
	}
	*c = Customer{ID: *aux.ID, Name: aux.Name}
	return nil
}

func (o *Order) UnmarshalJSON(b []byte) error {
	var aux struct {
		ID         *int `json:"id"`
		CustomerID *int `json:"customerId"`
	}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	if aux.ID == nil {
		return errMissingID
	}
	if aux.CustomerID == nil {
		return errMissingCustomerID
	}
	*o = Order{ID: *aux.ID, CustomerID: *aux.CustomerID}
	return nil
}

// MarshalJSON keeps an empty order list as [] rather than null.
func (co CustomerOrders) MarshalJSON() ([]byte, error) {
	type plain CustomerOrders
	if co.Orders == nil {
		co.Orders = []Order{}
	}
	return json.Marshal(plain(co))
}
