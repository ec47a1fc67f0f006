package models

import "time"

type CreditAccount struct {
	UserID  string `json:"userId"`
	Balance int64  `json:"credits"`
}

// Receipt records a committed debit and carries what a refund needs.
type Receipt struct {
	EntryID   string    `json:"entryId"`
	UserID    string    `json:"userId"`
	Cost      int64     `json:"cost"`
	DebitedAt time.Time `json:"debitedAt"`
}

type LedgerEntryKind string

const (
	LedgerDebit  LedgerEntryKind = "DEBIT"
	LedgerRefund LedgerEntryKind = "REFUND"
)

type LedgerEntry struct {
	ID        string          `json:"id"`
	UserID    string          `json:"userId"`
	Kind      LedgerEntryKind `json:"kind"`
	Amount    int64           `json:"amount"`
	Balance   int64           `json:"balance"`
	ReceiptID string          `json:"receiptId,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}
