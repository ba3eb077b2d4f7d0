package middleware

import (
	"testing"

	"github.com/Murzuq/Cash-Padi/shared/money"
)

type sampleRequest struct {
	AccountNumber string       `json:"accountNumber" validate:"required,accountnumber"`
	Pin           string       `json:"pin" validate:"required,min=4,max=6,digits"`
	Amount        money.Amount `json:"amount" validate:"positiveamount"`
}

func TestValidateRequest(t *testing.T) {
	tests := []struct {
		name       string
		req        sampleRequest
		wantFields []string
	}{
		{
			name: "valid",
			req:  sampleRequest{AccountNumber: "0123456789", Pin: "1234", Amount: money.Naira(10)},
		},
		{
			name:       "short account number",
			req:        sampleRequest{AccountNumber: "12345", Pin: "1234", Amount: money.Naira(10)},
			wantFields: []string{"AccountNumber"},
		},
		{
			name:       "non-digit pin and zero amount",
			req:        sampleRequest{AccountNumber: "0123456789", Pin: "12a4", Amount: 0},
			wantFields: []string{"Pin", "Amount"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := ValidateRequest(tt.req)
			if len(errs) != len(tt.wantFields) {
				t.Fatalf("got %d errors (%v), want %d", len(errs), errs, len(tt.wantFields))
			}
			for i, f := range tt.wantFields {
				if errs[i].Field != f {
					t.Errorf("error %d field=%s want %s", i, errs[i].Field, f)
				}
			}
		})
	}
}
