package models

import (
	"time"

	"github.com/google/uuid"
)

// Alert - активное предупреждение о превышении порога
type Alert struct {
	ID        uuid.UUID `json:"id"`
	Key       string    `json:"key"`
	Sensor    string    `json:"sensor"`
	Value     float64   `json:"value"`
	Threshold float64   `json:"threshold"`
	RaisedAt  time.Time `json:"raised_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Updates   int       `json:"updates"`
}
