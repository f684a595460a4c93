// Package timesheet reads work entries from the external time tracking
// system. The rest of the service treats entries as read-only snapshots;
// the tracking system stays the source of truth.
package timesheet

import (
	"context"
	"time"
)

// Entry is one logged block of work.
type Entry struct {
	ID          string    `json:"id"`
	Date        time.Time `json:"date"`
	Hours       float64   `json:"hours"`
	Description string    `json:"description"`
	Project     string    `json:"project"`
	UserName    string    `json:"user_name"`
	UserEmail   string    `json:"user_email"`
}

// Filter narrows an entry listing. Zero values mean no constraint.
type Filter struct {
	From      time.Time
	To        time.Time
	Project   string
	UserEmail string
}

type Provider interface {
	ListEntries(ctx context.Context, filter Filter) ([]Entry, error)
	GetEntries(ctx context.Context, entryIDs []string) ([]Entry, error)
}
