package domain

import "time"

// Client is a customer whose communications are prioritized.
type Client struct {
	ID               string
	Name             string
	Email            string
	ImportanceRating float64
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Device is an asset installed for a client.
type Device struct {
	ID        string
	ClientID  string
	Name      string
	Value     float64
	CreatedAt time.Time
}

// ClientSignals is the read-only projection the priority scorer consumes.
type ClientSignals struct {
	ClientID           string
	LastInboundAt      *time.Time
	CommunicationCount int
	DeviceCount        int
	AverageDeviceValue float64
	ImportanceRating   float64
}
