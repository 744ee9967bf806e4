package model

import (
	"errors"
	"time"
)

// Broadcast message types.
const (
	BroadcastPhaseProgress     = "phase_progress"
	BroadcastWorkflowAdvanced  = "workflow_advanced"
	BroadcastWorkflowCompleted = "workflow_completed"
	BroadcastAuditAlert        = "audit_alert"
)

// Broadcast priorities.
const (
	PriorityNormal = "normal"
	PriorityHigh   = "high"
)

// BroadcastMessage is pushed to live sessions interested in a client.
type BroadcastMessage struct {
	Type      string         `json:"type"`
	ClientID  string         `json:"clientId"`
	Data      map[string]any `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
	Priority  string         `json:"priority"`
}

// ErrSlotTaken is returned when a booking overlaps an existing one.
var ErrSlotTaken = errors.New("calendar slot already booked")

// Slot is a bookable calendar interval.
type Slot struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// CalendarEvent is a booked meeting.
type CalendarEvent struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Attendees []string  `json:"attendees"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	ClientID  string    `json:"clientId,omitempty"`
}

// Channel is a notification delivery channel.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelPush  Channel = "push"
)
