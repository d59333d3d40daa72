package model

import "time"

// SyncKind names what a run reconciled.
type SyncKind string

const (
	SyncKindStock SyncKind = "stock"
	SyncKindImage SyncKind = "image"
)

// Trigger names what started a run.
type Trigger string

const (
	TriggerWebhook   Trigger = "webhook"
	TriggerCron      Trigger = "cron"
	TriggerManual    Trigger = "manual"
	TriggerScheduler Trigger = "scheduler"
	TriggerCLI       Trigger = "cli"
)

// SyncRun is one entry of the sync history.
type SyncRun struct {
	ID             string    `json:"id" bson:"_id"`
	Kind           SyncKind  `json:"kind" bson:"kind"`
	Trigger        Trigger   `json:"trigger" bson:"trigger"`
	Source         Source    `json:"source,omitempty" bson:"source,omitempty"`
	StartedAt      time.Time `json:"started_at" bson:"started_at"`
	DurationMs     int64     `json:"duration_ms" bson:"duration_ms"`
	ItemsProcessed int       `json:"items_processed" bson:"items_processed"`
	ItemsUpdated   int       `json:"items_updated" bson:"items_updated"`
	ErrorCount     int       `json:"error_count" bson:"error_count"`
	Success        bool      `json:"success" bson:"success"`
	NextOffset     *int      `json:"next_offset,omitempty" bson:"next_offset,omitempty"`
	Message        string    `json:"message,omitempty" bson:"message,omitempty"`
}
