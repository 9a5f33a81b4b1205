package main

// TransitionMessage is a status change reported by a collaborator (payment
// terminal, print lab, pickup desk) through the queue.
type TransitionMessage struct {
	Reference     string `json:"reference"`
	Target        string `json:"target"`
	PaymentMethod string `json:"payment_method,omitempty"`
	Amount        string `json:"amount,omitempty"`
	Actor         string `json:"actor,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// SweepResult is returned by the scheduled handler.
type SweepResult struct {
	Removed int            `json:"removed"`
	Badges  map[string]int `json:"badges"`
}
