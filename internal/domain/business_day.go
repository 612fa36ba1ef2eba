package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// DayStatus is the business-day state machine:
//
//	OPEN -> PENDING_CLOSE -> CLOSED -> (next date) OPEN
//	PENDING_CLOSE -> OPEN (cancel)
type DayStatus string

const (
	DayOpen         DayStatus = "OPEN"
	DayPendingClose DayStatus = "PENDING_CLOSE"
	DayClosed       DayStatus = "CLOSED"
)

// CanTransitionTo reports whether the day may move from s to next.
func (s DayStatus) CanTransitionTo(next DayStatus) bool {
	switch s {
	case DayOpen:
		return next == DayPendingClose
	case DayPendingClose:
		return next == DayClosed || next == DayOpen
	}
	return false
}

// BusinessDateLayout is the storage format of business_date.
const BusinessDateLayout = "2006-01-02"

// BusinessDay is a store's accounting period for lottery inventory.
type BusinessDay struct {
	ID           string          `json:"day_id"`
	StoreID      string          `json:"store_id"`
	BusinessDate string          `json:"business_date"`
	Status       DayStatus       `json:"status"`
	OpenedAt     time.Time       `json:"opened_at"`
	OpenedBy     string          `json:"opened_by"`
	ClosedAt     *time.Time      `json:"closed_at,omitempty"`
	ClosedBy     *string         `json:"closed_by,omitempty"`
	TotalSales   decimal.Decimal `json:"total_sales"`
}

// NextBusinessDate returns the calendar date following d.
func NextBusinessDate(d string) (string, error) {
	t, err := time.Parse(BusinessDateLayout, d)
	if err != nil {
		return "", err
	}
	return t.AddDate(0, 0, 1).Format(BusinessDateLayout), nil
}

// DayPack is the immutable per-pack audit row written by a day close.
type DayPack struct {
	DayID          string          `json:"day_id"`
	PackID         string          `json:"pack_id"`
	StoreID        string          `json:"store_id"`
	StartingSerial int             `json:"starting_serial"`
	EndingSerial   int             `json:"ending_serial"`
	TicketsSold    int             `json:"tickets_sold"`
	SalesAmount    decimal.Decimal `json:"sales_amount"`
	CreatedAt      time.Time       `json:"created_at"`
}

// PackClosing is one pack's reading submitted for a day close.
type PackClosing struct {
	PackID        string `json:"pack_id"`
	ClosingSerial int    `json:"closing_serial"`
	SoldOut       bool   `json:"sold_out"`
}

// ClosingLine is a computed preview line for one pack.
type ClosingLine struct {
	PackID         string          `json:"pack_id"`
	GameID         string          `json:"game_id"`
	StartingSerial int             `json:"starting_serial"`
	ClosingSerial  int             `json:"closing_serial"`
	TicketsSold    int             `json:"tickets_sold"`
	GamePrice      decimal.Decimal `json:"game_price"`
	SalesAmount    decimal.Decimal `json:"sales_amount"`
	SoldOut        bool            `json:"sold_out"`
}

// ClosePreview is the outcome of prepare-close. Nothing but the day status
// changes until commit.
type ClosePreview struct {
	DayID           string          `json:"day_id"`
	StoreID         string          `json:"store_id"`
	ValidationToken string          `json:"validation_token"`
	ExpiresAt       time.Time       `json:"expires_at"`
	Lines           []ClosingLine   `json:"closings"`
	TotalSales      decimal.Decimal `json:"total_sales"`
	Warnings        []string        `json:"warnings"`
	Discrepancies   []string        `json:"discrepancies"`
}

// DaySummary is returned by commit-close.
type DaySummary struct {
	ClosedDay  BusinessDay `json:"closed_day"`
	NextDay    BusinessDay `json:"next_day"`
	DayPacks   []DayPack   `json:"day_packs"`
	PacksSold  int         `json:"packs_depleted"`
	SyncQueued int         `json:"sync_items_queued"`
}

// PrepareCloseRequest is the inbound payload for prepare-close.
type PrepareCloseRequest struct {
	Closings []PackClosing `json:"closings"`
}

// CommitCloseRequest is the inbound payload for commit-close.
type CommitCloseRequest struct {
	UserID          string `json:"user_id"`
	ValidationToken string `json:"validation_token,omitempty"`
}
