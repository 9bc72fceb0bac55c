package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"gorm.io/datatypes"
)

type EntryType string

const (
	EntryCredit EntryType = "CREDIT"
	EntryDebit  EntryType = "DEBIT"
)

// Reason records why a balance moved.
type Reason string

const (
	ReasonSignup        Reason = "signup"
	ReasonReferralBonus Reason = "referral_bonus"
	ReasonConversion    Reason = "conversion"
	ReasonAdminAdjust   Reason = "admin_adjust"
	ReasonAdminReset    Reason = "admin_reset"
)

const genesisHash = "GENESIS"

// Account is the credit holder. Credits is only ever written through the
// ledger so every change leaves a CreditEntry behind.
type Account struct {
	ID             int64     `gorm:"column:id;primaryKey;autoIncrement:false" json:"id"`
	DisplayName    string    `gorm:"column:display_name" json:"display_name"`
	Credits        int64     `gorm:"column:credits;not null;default:0" json:"credits"`
	ReferralCount  int64     `gorm:"column:referral_count;not null;default:0" json:"referral_count"`
	ReferrerID     *int64    `gorm:"column:referrer_id;index" json:"referrer_id,omitempty"`
	LastActivityAt time.Time `gorm:"column:last_activity_at;index" json:"last_activity_at"`
	CreatedAt      time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt      time.Time `gorm:"column:updated_at" json:"updated_at"`
}

type CreditEntry struct {
	ID           int64          `gorm:"column:id;primaryKey;autoIncrement:false" json:"id"`
	AccountID    int64          `gorm:"column:account_id;index" json:"account_id"`
	Type         EntryType      `gorm:"column:type" json:"type"`
	Reason       Reason         `gorm:"column:reason" json:"reason"`
	Amount       int64          `gorm:"column:amount" json:"amount"`
	BalanceAfter int64          `gorm:"column:balance_after" json:"balance_after"`
	ReferenceID  string         `gorm:"column:reference_id;index" json:"reference_id,omitempty"`
	PreviousHash string         `gorm:"column:previous_hash" json:"previous_hash"`
	Hash         string         `gorm:"column:hash" json:"hash"`
	Metadata     datatypes.JSON `gorm:"column:metadata" json:"metadata,omitempty"`
	CreatedAt    time.Time      `gorm:"column:created_at" json:"created_at"`
}

// Models lists the tables owned by the ledger, for migrations.
func Models() []any {
	return []any{&Account{}, &CreditEntry{}}
}

type entryParams struct {
	ID           int64
	AccountID    int64
	Delta        int64
	Reason       Reason
	BalanceAfter int64
	ReferenceID  string
	PreviousHash string
	Metadata     datatypes.JSON
	CreatedAt    time.Time
}

func newCreditEntry(p entryParams) *CreditEntry {
	entryType, amount := EntryCredit, p.Delta
	if p.Delta < 0 {
		entryType, amount = EntryDebit, -p.Delta
	}

	prev := p.PreviousHash
	if prev == "" {
		prev = genesisHash
	}

	e := &CreditEntry{
		ID:           p.ID,
		AccountID:    p.AccountID,
		Type:         entryType,
		Reason:       p.Reason,
		Amount:       amount,
		BalanceAfter: p.BalanceAfter,
		ReferenceID:  p.ReferenceID,
		PreviousHash: prev,
		Metadata:     p.Metadata,
		// mysql datetime(3) keeps milliseconds; hash what will be read back
		CreatedAt: p.CreatedAt.UTC().Truncate(time.Millisecond),
	}
	e.Hash = e.GenerateHash()
	return e
}

// Delta is the signed balance change of the entry.
func (e *CreditEntry) Delta() int64 {
	if e.Type == EntryDebit {
		return -e.Amount
	}
	return e.Amount
}

func (e *CreditEntry) HashFields() map[string]string {
	return map[string]string{
		"id":            fmt.Sprintf("%d", e.ID),
		"account_id":    fmt.Sprintf("%d", e.AccountID),
		"type":          string(e.Type),
		"reason":        string(e.Reason),
		"amount":        fmt.Sprintf("%d", e.Amount),
		"balance_after": fmt.Sprintf("%d", e.BalanceAfter),
		"reference_id":  e.ReferenceID,
		"created_at":    e.CreatedAt.UTC().Format(time.RFC3339Nano),
		"previous_hash": e.PreviousHash,
	}
}

func (e *CreditEntry) GenerateHash() string {
	fields := e.HashFields()
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, fields[k]))
	}

	hash := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(hash[:])
}
