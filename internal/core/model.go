package core

import "time"

type AccountType string

const (
	Asset     AccountType = "asset"
	Liability AccountType = "liability"
	Equity    AccountType = "equity"
	Revenue   AccountType = "revenue"
	Expense   AccountType = "expense"
)

type Account struct {
	ID        int         `json:"id"`
	CompanyID int         `json:"company_id"`
	Code      string      `json:"code"`
	Name      string      `json:"name"`
	Type      AccountType `json:"type"`
}

type Company struct {
	ID           int    `json:"id"`
	CompanyCode  string `json:"company_code"`
	Name         string `json:"name"`
	BaseCurrency string `json:"base_currency"`
}

type JournalEntry struct {
	ID              int           `json:"id"`
	CompanyID       int           `json:"company_id"`
	IdempotencyKey  string        `json:"idempotency_key,omitempty"`
	PostingDate     time.Time     `json:"posting_date"`
	DocumentDate    time.Time     `json:"document_date"`
	CreatedAt       time.Time     `json:"created_at"`
	Narration       string        `json:"narration"`
	ReferenceType   *string       `json:"reference_type,omitempty"`
	ReferenceID     *string       `json:"reference_id,omitempty"`
	Reasoning       string        `json:"reasoning"`
	ReversedEntryID *int          `json:"reversed_entry_id,omitempty"`
	Lines           []JournalLine `json:"lines"`
}

type JournalLine struct {
	ID                  int    `json:"id"`
	EntryID             int    `json:"entry_id"`
	AccountID           int    `json:"account_id"`
	TransactionCurrency string `json:"transaction_currency"`
	ExchangeRate        string `json:"exchange_rate"`
	AmountTransaction   string `json:"amount_transaction"`
	DebitBase           string `json:"debit_base"`
	CreditBase          string `json:"credit_base"`
}

// ProposalLine represents a single debit or credit line in a journal entry proposal.
// Currency is a header-level field on Proposal. All lines in one entry share
// the same TransactionCurrency and ExchangeRate (no mixed-currency entries).
type ProposalLine struct {
	AccountCode string `json:"account_code"`
	IsDebit     bool   `json:"is_debit"`
	Amount      string `json:"amount"`
}

// Proposal is a journal entry proposal built by the posting helpers ahead of
// being committed through the ledger. TransactionCurrency and ExchangeRate
// are header-level: all lines use the same currency.
type Proposal struct {
	DocumentTypeCode    string         `json:"document_type_code"`
	CompanyCode         string         `json:"company_code"`
	IdempotencyKey      string         `json:"idempotency_key"`
	TransactionCurrency string         `json:"transaction_currency"`
	ExchangeRate        string         `json:"exchange_rate"`
	Summary             string         `json:"summary"`
	PostingDate         string         `json:"posting_date"`
	DocumentDate        string         `json:"document_date"`
	Reasoning           string         `json:"reasoning"`
	Lines               []ProposalLine `json:"lines"`
}

type DocumentStatus string

const (
	DocumentStatusDraft     DocumentStatus = "DRAFT"
	DocumentStatusPosted    DocumentStatus = "POSTED"
	DocumentStatusCancelled DocumentStatus = "CANCELLED"
)

type DocumentType struct {
	Code              string `json:"code"`
	Name              string `json:"name"`
	AffectsInventory  bool   `json:"affects_inventory"`
	AffectsGL         bool   `json:"affects_gl"`
	AffectsAR         bool   `json:"affects_ar"`
	AffectsAP         bool   `json:"affects_ap"`
	NumberingStrategy string `json:"numbering_strategy"` // 'global', 'per_fy', 'per_branch'
	ResetsEveryFY     bool   `json:"resets_every_fy"`
}

type Document struct {
	ID             int            `json:"id"`
	CompanyID      int            `json:"company_id"`
	TypeCode       string         `json:"type_code"`
	Status         DocumentStatus `json:"status"`
	DocumentNumber *string        `json:"document_number,omitempty"`
	FinancialYear  *int           `json:"financial_year,omitempty"`
	BranchID       *int           `json:"branch_id,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	PostedAt       *time.Time     `json:"posted_at,omitempty"`
}

type DocumentSequence struct {
	CompanyID     int    `json:"company_id"`
	TypeCode      string `json:"type_code"`
	FinancialYear *int   `json:"financial_year,omitempty"`
	BranchID      *int   `json:"branch_id,omitempty"`
	LastNumber    int64  `json:"last_number"`
}
