package models

import (
	"time"
)

// DeliveryError records a failed attempt to deliver spooled heartbeats.
type DeliveryError struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Timestamp time.Time `gorm:"not null;index" json:"timestamp"`
	ErrorMsg  string    `gorm:"not null" json:"error_msg"`
	Pending   int64     `gorm:"not null;default:0" json:"pending"` // queue depth at failure
	CreatedAt time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}
