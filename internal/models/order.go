package models

import (
	"time"
)

const (
	OrderStatusNew       = "NEW"
	OrderStatusFinished  = "FINISHED"
	OrderStatusCancelled = "CANCELLED"
)

type Order struct {
	ID          string
	UserID      string
	Amount      int64
	Description string
	Status      string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Terminal orders never change status again
func (o Order) Terminal() bool {
	return o.Status == OrderStatusFinished || o.Status == OrderStatusCancelled
}
