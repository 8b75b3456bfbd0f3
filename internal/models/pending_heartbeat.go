package models

import (
	"time"

	"github.com/fxamacker/cbor/v2"
)

// HeartbeatData is the filtered window payload of a heartbeat.
type HeartbeatData struct {
	App    string `cbor:"1,keyasint" json:"app"`
	Title  string `cbor:"2,keyasint" json:"title"`
	TeamID int64  `cbor:"3,keyasint" json:"teamId"`
}

// PendingHeartbeat is a heartbeat waiting in the spool for delivery.
// Rows are delivered in ID order.
type PendingHeartbeat struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	BucketID  int64     `gorm:"not null;index" json:"bucket_id"`
	Timestamp time.Time `gorm:"not null" json:"timestamp"`
	Pulsetime float64   `gorm:"not null" json:"pulsetime"` // seconds
	Payload   []byte    `gorm:"not null" json:"-"`         // CBOR encoded HeartbeatData
	Attempts  int       `gorm:"not null;default:0" json:"attempts"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// SetData encodes d into the payload column.
func (p *PendingHeartbeat) SetData(d HeartbeatData) error {
	payload, err := cbor.Marshal(d)
	if err != nil {
		return err
	}
	p.Payload = payload
	return nil
}

// Data decodes the payload column.
func (p *PendingHeartbeat) Data() (HeartbeatData, error) {
	var d HeartbeatData
	err := cbor.Unmarshal(p.Payload, &d)
	return d, err
}
