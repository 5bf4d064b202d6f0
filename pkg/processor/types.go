package processor

import (
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"
)

// AutoRecurring is the billing schedule of a preapproval
type AutoRecurring struct {
	Frequency         int         `json:"frequency"`
	FrequencyType     string      `json:"frequency_type"`
	TransactionAmount json.Number `json:"transaction_amount"`
	CurrencyID        string      `json:"currency_id"`
	StartDate         string      `json:"start_date,omitempty"`
}

// PreapprovalRequest is the body of POST /preapproval
type PreapprovalRequest struct {
	Reason            string        `json:"reason"`
	ExternalReference string        `json:"external_reference"`
	PayerEmail        string        `json:"payer_email"`
	AutoRecurring     AutoRecurring `json:"auto_recurring"`
	BackURL           string        `json:"back_url"`
	Status            string        `json:"status"`
}

// Amount formats a decimal with two places as a JSON number
func Amount(d decimal.Decimal) json.Number {
	return json.Number(d.StringFixed(2))
}

// Preapproval is a subscription as returned by the processor
type Preapproval struct {
	ID                string `json:"id"`
	InitPoint         string `json:"init_point"`
	Status            string `json:"status"`
	ExternalReference string `json:"external_reference"`
	PayerEmail        string `json:"payer_email"`
	Reason            string `json:"reason"`
	NextPaymentDate   string `json:"next_payment_date"`
}

// Payment is a charge as returned by GET /v1/payments/{id}
type Payment struct {
	ID                ID              `json:"id"`
	Status            string          `json:"status"`
	StatusDetail      string          `json:"status_detail"`
	ExternalReference string          `json:"external_reference"`
	TransactionAmount decimal.Decimal `json:"transaction_amount"`
	CurrencyID        string          `json:"currency_id"`
}

// ID is an identifier the processor sends either as a number or a string
type ID string

// UnmarshalJSON accepts both representations
func (id *ID) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		*id = ""
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		*id = ID(str)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*id = ID(n.String())
	return nil
}

// String returns the identifier
func (id ID) String() string {
	return string(id)
}
