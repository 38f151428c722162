// Package state defines the device state record shared by the registry, the
// per-device queue, and the broadcast hub.
package state

import "time"

// Status values for DeviceState.Status.
const (
	StatusActive  = "active"
	StatusOffline = "offline"
)

// DeviceState is the latest known state of one device, keyed by IMEI.
type DeviceState struct {
	IMEI string

	// HasFix is true once a location fix has been recorded. It exists so a
	// legitimate (0,0) equator/meridian fix is distinguishable from "no fix
	// yet" without relying on the zero value of Lat/Lon.
	HasFix bool
	Lat    float64
	Lon    float64

	Speed       uint8
	Course      uint16
	Satellites  uint8
	RealtimeGPS bool

	PayloadTime  time.Time
	ReceivedTime time.Time
	LastUpdate   time.Time

	Status string
}

// Clone returns a deep copy suitable for handing to a reader that must not
// observe future mutations (e.g. a registry snapshot or a queued update).
func (d *DeviceState) Clone() *DeviceState {
	c := *d
	return &c
}

// JSON is the wire representation sent to observers.
type JSON struct {
	IMEI       string  `json:"imei"`
	Lat        float64 `json:"lat"`
	Lon        float64 `json:"lon"`
	Speed      uint8   `json:"speed"`
	Course     uint16  `json:"course"`
	DateTime   string  `json:"datetime"`
	LastUpdate string  `json:"lastUpdate"`
	Status     string  `json:"status,omitempty"`
}

const iso8601 = "2006-01-02T15:04:05Z07:00"

// ToJSON converts a DeviceState to its wire representation.
func (d *DeviceState) ToJSON() JSON {
	return JSON{
		IMEI:       d.IMEI,
		Lat:        d.Lat,
		Lon:        d.Lon,
		Speed:      d.Speed,
		Course:     d.Course,
		DateTime:   d.PayloadTime.UTC().Format(iso8601),
		LastUpdate: d.LastUpdate.UTC().Format(iso8601),
		Status:     d.Status,
	}
}

// FromJSON builds a DeviceState from an observer-supplied JSON payload
// (synthetic ingress). receivedTime/lastUpdate are stamped by the caller,
// not parsed from the payload.
func FromJSON(j JSON, receivedTime time.Time) *DeviceState {
	payloadTime := receivedTime
	if t, err := time.Parse(iso8601, j.DateTime); err == nil {
		payloadTime = t
	}

	status := j.Status
	if status == "" {
		status = StatusActive
	}

	return &DeviceState{
		IMEI:         j.IMEI,
		HasFix:       true,
		Lat:          j.Lat,
		Lon:          j.Lon,
		Speed:        j.Speed,
		Course:       j.Course,
		PayloadTime:  payloadTime,
		ReceivedTime: receivedTime,
		LastUpdate:   receivedTime,
		Status:       status,
	}
}
