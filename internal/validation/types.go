package validation

// AddItemRequest is the payload for POST /orders/:reference/items.
type AddItemRequest struct {
	ItemID   string `json:"item_id" validate:"required,max=128"`            // stable photo selection id
	Product  string `json:"product" validate:"required,max=64"`             // print format
	Quantity int    `json:"quantity" validate:"required,min=1,max=10000"` // must be >= 1
}

// UpdateEmailRequest is the payload for PUT /orders/:reference/email.
type UpdateEmailRequest struct {
	Email string `json:"email" validate:"required,email,max=254"`
}

// TransitionRequest is the payload for POST /admin/orders/:reference/transitions.
// PaymentMethod and Amount are required when Target is "paid".
type TransitionRequest struct {
	Target        string `json:"target" validate:"required,oneof=unpaid paid validated exported retrieved"`
	PaymentMethod string `json:"payment_method,omitempty" validate:"max=64"`
	Amount        string `json:"amount,omitempty"` // decimal string, e.g. "6.00"
}
