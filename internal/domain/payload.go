package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// EntityType names the kind of record a sync item refers to.
type EntityType string

const (
	EntityPack         EntityType = "pack"
	EntityDayClose     EntityType = "day_close"
	EntityDayOpen      EntityType = "day_open"
	EntityPullTracking EntityType = "pull_tracking"
)

// PackReceivedPayload is carried by pack CREATE items.
type PackReceivedPayload struct {
	PackID     string    `json:"pack_id"`
	GameID     string    `json:"game_id"`
	PackNumber string    `json:"pack_number"`
	ReceivedAt time.Time `json:"received_at"`
}

// PackActivatedPayload is carried by pack ACTIVATE items.
type PackActivatedPayload struct {
	PackID        string    `json:"pack_id"`
	GameID        string    `json:"game_id"`
	PackNumber    string    `json:"pack_number"`
	BinID         string    `json:"bin_id"`
	OpeningSerial int       `json:"opening_serial"`
	ActivatedAt   time.Time `json:"activated_at"`
	ReceivedAt    time.Time `json:"received_at"`
	DayID         string    `json:"day_id,omitempty"`
}

// PackUpdatedPayload is carried by pack UPDATE items (close, deplete, return).
type PackUpdatedPayload struct {
	PackID        string     `json:"pack_id"`
	Status        PackStatus `json:"status"`
	ClosingSerial *int       `json:"closing_serial,omitempty"`
	DepletedAt    *time.Time `json:"depleted_at,omitempty"`
	ReturnedAt    *time.Time `json:"returned_at,omitempty"`
	DayID         string     `json:"day_id,omitempty"`
}

// DayClosePackPayload is one pack line of a day_close event.
type DayClosePackPayload struct {
	PackID         string          `json:"pack_id"`
	StartingSerial int             `json:"starting_serial"`
	EndingSerial   int             `json:"ending_serial"`
	TicketsSold    int             `json:"tickets_sold"`
	SalesAmount    decimal.Decimal `json:"sales_amount"`
	SoldOut        bool            `json:"sold_out"`
}

// DayClosePayload is carried by day_close CREATE items.
type DayClosePayload struct {
	DayID        string                `json:"day_id"`
	BusinessDate string                `json:"business_date"`
	ClosedAt     time.Time             `json:"closed_at"`
	ClosedBy     string                `json:"closed_by"`
	TotalSales   decimal.Decimal       `json:"total_sales"`
	Packs        []DayClosePackPayload `json:"packs"`
}

// DayOpenPayload is carried by day_open CREATE items.
type DayOpenPayload struct {
	DayID        string    `json:"day_id"`
	BusinessDate string    `json:"business_date"`
	OpenedAt     time.Time `json:"opened_at"`
	OpenedBy     string    `json:"opened_by"`
}

// PullMarkerPayload is carried by PULL-direction tracking rows.
type PullMarkerPayload struct {
	Action        PullAction `json:"action"`
	SinceSequence int64      `json:"since_sequence"`
	StartedAt     time.Time  `json:"started_at"`
}

type payloadKey struct {
	entity EntityType
	op     Operation
}

// payloadTypes maps each (entity, operation) pair to the constructor of its
// concrete payload schema. Pairs missing from the table are not syncable.
var payloadTypes = map[payloadKey]func() any{
	{EntityPack, OperationCreate}:         func() any { return &PackReceivedPayload{} },
	{EntityPack, OperationActivate}:       func() any { return &PackActivatedPayload{} },
	{EntityPack, OperationUpdate}:         func() any { return &PackUpdatedPayload{} },
	{EntityDayClose, OperationCreate}:     func() any { return &DayClosePayload{} },
	{EntityDayOpen, OperationCreate}:      func() any { return &DayOpenPayload{} },
	{EntityPullTracking, OperationCreate}: func() any { return &PullMarkerPayload{} },
}

// DecodePayload unmarshals raw into the concrete schema for (entity, op).
func DecodePayload(entity EntityType, op Operation, raw json.RawMessage) (any, error) {
	newFn, ok := payloadTypes[payloadKey{entity, op}]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrInvalidEntityType, entity, op)
	}
	v := newFn()
	if err := json.Unmarshal(raw, v); err != nil {
		return nil, fmt.Errorf("decode %s/%s payload: %w", entity, op, err)
	}
	return v, nil
}
