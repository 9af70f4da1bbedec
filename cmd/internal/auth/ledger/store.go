package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// EndReason names why a record was closed.
type EndReason string

const (
	ReasonLogout        EndReason = "logout"
	ReasonTakeover      EndReason = "takeover"
	ReasonDisabled      EndReason = "disabled"
	ReasonDeleted       EndReason = "deleted"
	ReasonExpired       EndReason = "expired"
	ReasonPartnerLogout EndReason = "partner_logout"
	ReasonAborted       EndReason = "aborted"
)

// Surface is the front-end a session was opened from.
type Surface string

const (
	SurfacePanel Surface = "panel"
	SurfaceApp   Surface = "app"
	SurfaceAPI   Surface = "api"
)

// ParseSurface maps free-form input to a Surface, defaulting to SurfaceAPI.
func ParseSurface(s string) Surface {
	switch Surface(strings.ToLower(strings.TrimSpace(s))) {
	case SurfacePanel:
		return SurfacePanel
	case SurfaceApp:
		return SurfaceApp
	default:
		return SurfaceAPI
	}
}

// Record is one session's lifetime. EndedAt == nil means open.
type Record struct {
	ID               string
	Username         string
	StartedAt        time.Time
	EndedAt          *time.Time
	OriginAddress    string
	ClientDescriptor string
	Surface          Surface
	EndReason        EndReason
}

// IsOpen reports whether the record has not been closed.
func (r Record) IsOpen() bool { return r.EndedAt == nil }

// OpenInput describes a record to open. ID is the session ID minted by the caller.
type OpenInput struct {
	ID               string
	Username         string
	StartedAt        time.Time
	OriginAddress    string
	ClientDescriptor string
	Surface          Surface
}

// Store is the session ledger persistence boundary.
type Store interface {
	// Open inserts an open record. Returns ErrOpenExists if the account
	// already has one.
	Open(ctx context.Context, in OpenInput) (Record, error)

	// FindOpen returns the open record for an account or ErrNotFound.
	FindOpen(ctx context.Context, username string) (Record, error)

	Get(ctx context.Context, id string) (Record, error)

	// Close ends an open record. Closing an already closed or missing record
	// is a no-op and reports false.
	Close(ctx context.Context, id string, at time.Time, reason EndReason) (bool, error)

	// ListByAccount returns records newest first. limit <= 0 means no limit.
	ListByAccount(ctx context.Context, username string, limit int) ([]Record, error)

	// ListOpenStartedBefore returns open records started strictly before cutoff.
	ListOpenStartedBefore(ctx context.Context, cutoff time.Time) ([]Record, error)

	// DeleteByAccount removes every record of an account (account deletion cascade).
	DeleteByAccount(ctx context.Context, username string) (int, error)
}

const maxClientDescriptorLen = 512

func checkOpen(in *OpenInput) error {
	in.ID = strings.TrimSpace(in.ID)
	in.Username = strings.TrimSpace(in.Username)
	if in.ID == "" || in.Username == "" {
		return fmt.Errorf("%w: id and username are required", ErrInvalidInput)
	}
	if in.StartedAt.IsZero() {
		in.StartedAt = time.Now().UTC()
	}
	in.StartedAt = in.StartedAt.UTC()
	if len(in.ClientDescriptor) > maxClientDescriptorLen {
		in.ClientDescriptor = strings.ToValidUTF8(in.ClientDescriptor[:maxClientDescriptorLen], "")
	}
	if in.Surface == "" {
		in.Surface = SurfaceAPI
	}
	return nil
}

func (in OpenInput) record() Record {
	return Record{
		ID:               in.ID,
		Username:         in.Username,
		StartedAt:        in.StartedAt,
		OriginAddress:    in.OriginAddress,
		ClientDescriptor: in.ClientDescriptor,
		Surface:          in.Surface,
	}
}
