/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. Engine types (Sale,
  Corte, KPISet, Treasury) already carry JSON tags and are returned as is;
  the types here wrap them or describe request bodies.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

TYPES:
  Sales:
    AppendSalesResponse

  Shifts:
    OpenShiftRequest, CloseShiftRequest, CloseShiftResponse, SealFailureDTO

  Reports:
    KPIsDTO, TreasuryDTO, PaymentMethodsDTO, CorteListDTO

  Tools:
    ForeignCashTaxRequest, ForeignCashTaxDTO, CustomerUpdateRequest

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.
  Sale bodies are not DTOs: they go through factory.SaleFactory so legacy
  shapes are accepted.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/sale.go: Sale decoding
*/
package api

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fenixpos/fiscal-engine/fiscal"
)

// =============================================================================
// REQUEST/RESPONSE TYPES
// =============================================================================

// AppendSalesResponse lists the IDs of the sales written, in request order.
type AppendSalesResponse struct {
	IDs   []fiscal.SaleID `json:"ids"`
	Count int             `json:"count"`
}

// OpenShiftRequest opens a shift. Opening accepts every stored shape of the
// register state (see factory.DecodeOpening).
type OpenShiftRequest struct {
	RegisterID string          `json:"registerId"`
	Operator   fiscal.Operator `json:"operator"`
	Opening    json.RawMessage `json:"opening"`
}

// CloseShiftRequest closes the open shift of a register.
type CloseShiftRequest struct {
	RegisterID string          `json:"registerId"`
	Operator   fiscal.Operator `json:"operator"`
}

type SealFailureDTO struct {
	SaleID fiscal.SaleID `json:"saleId"`
	Error  string        `json:"error"`
}

// CloseShiftResponse is the corte plus what the seal step did.
type CloseShiftResponse struct {
	Corte         fiscal.Corte     `json:"corte"`
	Sealed        int              `json:"sealed"`
	AlreadySealed int              `json:"alreadySealed"`
	Failed        []SealFailureDTO `json:"failed"`
	Resumed       bool             `json:"resumed"`
	BulkSeal      bool             `json:"bulkSeal"`
}

type KPIsDTO struct {
	From      time.Time     `json:"from"`
	To        time.Time     `json:"to"`
	SaleCount int           `json:"saleCount"`
	KPIs      fiscal.KPISet `json:"kpis"`
}

// TreasuryDTO is the quadrant report for a range, with USD projections at
// the last known rate of the range.
type TreasuryDTO struct {
	From          time.Time       `json:"from"`
	To            time.Time       `json:"to"`
	Treasury      fiscal.Treasury `json:"treasury"`
	ReferenceRate decimal.Decimal `json:"referenceRate"`
	InflowUSD     decimal.Decimal `json:"inflowUSD"`
	OutflowUSD    decimal.Decimal `json:"outflowUSD"`
	NetUSD        decimal.Decimal `json:"netUSD"`
}

type PaymentMethodsDTO struct {
	From   time.Time                  `json:"from"`
	To     time.Time                  `json:"to"`
	USD    []fiscal.MethodTotal       `json:"usd"`
	Native []fiscal.NativeMethodTotal `json:"native"`
}

type CorteListDTO struct {
	Cortes []fiscal.Corte `json:"cortes"`
	Count  int            `json:"count"`
}

// ForeignCashTaxRequest asks for the surcharge due on a payment set.
type ForeignCashTaxRequest struct {
	Total        decimal.Decimal  `json:"total"`
	Payments     []fiscal.Payment `json:"payments"`
	ExchangeRate decimal.Decimal  `json:"exchangeRate"`
}

type ForeignCashTaxDTO struct {
	Tax  decimal.Decimal `json:"tax"`
	Base decimal.Decimal `json:"base"`
}

// CustomerUpdateRequest previews the effect of a sale on a customer balance.
type CustomerUpdateRequest struct {
	Balance        fiscal.CustomerBalance `json:"balance"`
	NewDebt        decimal.Decimal        `json:"newDebt"`
	ChangeToWallet decimal.Decimal        `json:"changeToWallet"`
	WalletUsed     decimal.Decimal        `json:"walletUsed"`
}

// HealthDTO is the liveness response.
type HealthDTO struct {
	Status  string `json:"status"`
	Audited bool   `json:"audited"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}
