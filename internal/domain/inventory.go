package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PackStatus tracks a ticket pack through the store's inventory.
type PackStatus string

const (
	PackReceived PackStatus = "RECEIVED"
	PackActive   PackStatus = "ACTIVE"
	PackDepleted PackStatus = "DEPLETED"
	PackReturned PackStatus = "RETURNED"
)

func (s PackStatus) IsValid() bool {
	switch s {
	case PackReceived, PackActive, PackDepleted, PackReturned:
		return true
	}
	return false
}

// Store is the tenant every local row is scoped to.
type Store struct {
	ID        string    `json:"store_id"`
	Name      string    `json:"name"`
	Timezone  string    `json:"timezone"`
	CreatedAt time.Time `json:"created_at"`
}

// Game is a lottery game definition as published by the cloud.
type Game struct {
	ID             string          `json:"game_id"`
	StoreID        string          `json:"store_id"`
	GameCode       string          `json:"game_code"`
	Name           string          `json:"name"`
	Price          decimal.Decimal `json:"price"`
	TicketsPerPack int             `json:"tickets_per_pack"`
	Status         string          `json:"status"`
	SyncSequence   int64           `json:"sync_sequence"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Bin is a physical dispenser slot a pack is activated into.
type Bin struct {
	ID           string    `json:"bin_id"`
	StoreID      string    `json:"store_id"`
	Name         string    `json:"name"`
	DisplayOrder int       `json:"display_order"`
	IsActive     bool      `json:"is_active"`
	SyncSequence int64     `json:"sync_sequence"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Pack is one physical pack of tickets for a game.
type Pack struct {
	ID            string     `json:"pack_id"`
	StoreID       string     `json:"store_id"`
	GameID        string     `json:"game_id"`
	PackNumber    string     `json:"pack_number"`
	Status        PackStatus `json:"status"`
	BinID         *string    `json:"bin_id,omitempty"`
	OpeningSerial *int       `json:"opening_serial,omitempty"`
	ClosingSerial *int       `json:"closing_serial,omitempty"`
	ReceivedAt    time.Time  `json:"received_at"`
	ActivatedAt   *time.Time `json:"activated_at,omitempty"`
	DepletedAt    *time.Time `json:"depleted_at,omitempty"`
	ReturnedAt    *time.Time `json:"returned_at,omitempty"`
	SyncSequence  int64      `json:"sync_sequence"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// EffectiveOpeningSerial is the serial sales are counted from: the serial
// recorded by the previous close when the pack spans an earlier period,
// otherwise the activation serial.
func (p *Pack) EffectiveOpeningSerial() int {
	if p.ClosingSerial != nil {
		return *p.ClosingSerial
	}
	if p.OpeningSerial != nil {
		return *p.OpeningSerial
	}
	return 0
}

// ReceivePackRequest is the inbound payload for registering a new pack.
type ReceivePackRequest struct {
	PackID     string `json:"pack_id"`
	GameID     string `json:"game_id"`
	PackNumber string `json:"pack_number"`
}

// ActivatePackRequest is the inbound payload for putting a pack on sale.
type ActivatePackRequest struct {
	BinID         string `json:"bin_id"`
	OpeningSerial int    `json:"opening_serial"`
}

func (r *ActivatePackRequest) Validate() error {
	if r.BinID == "" {
		return ErrBinRequired
	}
	if r.OpeningSerial < 0 {
		return ErrInvalidSerial
	}
	return nil
}

func (r *ReceivePackRequest) Validate() error {
	if r.PackID == "" || r.GameID == "" || r.PackNumber == "" {
		return ErrPackFieldsRequired
	}
	return nil
}
