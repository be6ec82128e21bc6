package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// buildBalancedProposal constructs the simplest two-line Proposal the Ledger
// accepts: one debit, one credit, for the same amount, in the company's
// transaction currency. Every workflow that posts a mechanical GL side
// effect (goods receipt, credit note apply, adjustment apply) funnels
// through this helper so the SAP-style single-currency
// double-entry balance rule in proposal_logic.go is always satisfied by
// construction.
//
// invertSign flips which side is the debit — used by adjustment.go where a
// negative variance (shrinkage) debits the variance account instead of
// inventory.
func buildBalancedProposal(docTypeCode, companyCode, summary string, amount decimal.Decimal, debitAccount, creditAccount string, invertSign bool) Proposal {
	return buildBalancedProposalCurrency(docTypeCode, companyCode, "HNL", summary, amount, debitAccount, creditAccount, invertSign)
}

func buildBalancedProposalCurrency(docTypeCode, companyCode, currency, summary string, amount decimal.Decimal, debitAccount, creditAccount string, invertSign bool) Proposal {
	if invertSign {
		debitAccount, creditAccount = creditAccount, debitAccount
	}
	today := time.Now().Format("2006-01-02")
	return Proposal{
		DocumentTypeCode:    docTypeCode,
		CompanyCode:         companyCode,
		IdempotencyKey:      newID(),
		TransactionCurrency: currency,
		ExchangeRate:        "1.0",
		Summary:             summary,
		PostingDate:         today,
		DocumentDate:        today,
		Lines: []ProposalLine{
			{AccountCode: debitAccount, IsDebit: true, Amount: amount.StringFixed(2)},
			{AccountCode: creditAccount, IsDebit: false, Amount: amount.StringFixed(2)},
		},
	}
}

// buildMultiLineProposal builds a Proposal whose lines are singleSide
// followed by splitLines, in that order. It does not check that the two
// sides balance; the Proposal's own validation does that when it is posted.
func buildMultiLineProposal(docTypeCode, companyCode, summary string, singleSide ProposalLine, splitLines []ProposalLine) Proposal {
	return buildMultiLineProposalCurrency(docTypeCode, companyCode, "HNL", summary, singleSide, splitLines)
}

func buildMultiLineProposalCurrency(docTypeCode, companyCode, currency, summary string, singleSide ProposalLine, splitLines []ProposalLine) Proposal {
	today := time.Now().Format("2006-01-02")
	lines := append([]ProposalLine{singleSide}, splitLines...)
	return Proposal{
		DocumentTypeCode:    docTypeCode,
		CompanyCode:         companyCode,
		IdempotencyKey:      newID(),
		TransactionCurrency: currency,
		ExchangeRate:        "1.0",
		Summary:             summary,
		PostingDate:         today,
		DocumentDate:        today,
		Lines:               lines,
	}
}
