package domain

import (
	"math"
	"time"
)

// Address represents postal address structures copied onto orders.
type Address struct {
	Recipient   string
	Line1       string
	Line2       *string
	City        string
	PostalCode  string
	Country     string
	Phone       *string
	Coordinates *Coordinates
}

// Coordinates is a WGS84 point in decimal degrees.
type Coordinates struct {
	Latitude  float64
	Longitude float64
}

// Valid reports whether the point is usable for a great-circle computation. The null island
// (0,0) is treated as an unset geocode.
func (c *Coordinates) Valid() bool {
	if c == nil {
		return false
	}
	if math.IsNaN(c.Latitude) || math.IsNaN(c.Longitude) || math.IsInf(c.Latitude, 0) || math.IsInf(c.Longitude, 0) {
		return false
	}
	if c.Latitude < -90 || c.Latitude > 90 || c.Longitude < -180 || c.Longitude > 180 {
		return false
	}
	return c.Latitude != 0 || c.Longitude != 0
}

// GuestContact identifies an unauthenticated buyer.
type GuestContact struct {
	Name  string
	Email string
	Phone string
}

// PickupLocation is a store counter where pickup orders are collected.
type PickupLocation struct {
	ID      string
	Name    string
	Address Address
	Active  bool
}

const (
	// HealthStatusOK indicates all dependencies are healthy.
	HealthStatusOK = "ok"
	// HealthStatusDegraded indicates at least one dependency is degraded but service remains running.
	HealthStatusDegraded = "degraded"
	// HealthStatusError indicates the service or a critical dependency is unavailable.
	HealthStatusError = "error"
)

// SystemHealthCheck describes the outcome of an individual dependency probe.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency status for health endpoints.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}
