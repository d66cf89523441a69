package gmail

import (
	"context"
	"errors"
)

// ErrLabelExists is returned by CreateLabel when the mailbox already has a
// label with the requested name.
var ErrLabelExists = errors.New("label already exists")

// Client is the narrow Gmail surface required by awayreply.
type Client interface {
	ListLabels(ctx context.Context) ([]Label, error)
	CreateLabel(ctx context.Context, name string) (Label, error)
	List(ctx context.Context, q Query, pageToken string, pageSize int) (ListPage, error)
	GetMessage(ctx context.Context, id MessageID, headers []string) (Message, error)
	GetThread(ctx context.Context, id ThreadID, headers []string) (Thread, error)
	Send(ctx context.Context, raw []byte, thread ThreadID) (MessageID, error)
	// ModifyThread applies ops to every message in the thread.
	ModifyThread(ctx context.Context, id ThreadID, ops ModifyOps) error
}

// Source hands out a Client bound to the currently held credentials.
// ok is false when no credentials are held; callers must then make no API
// calls at all.
type Source interface {
	Client(ctx context.Context) (c Client, ok bool, err error)
}
