// Package responder replies once to every unanswered unread thread and tags
// the replied message with a label.
package responder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/joshsymonds/awayreply/internal/gmail"
	"github.com/joshsymonds/awayreply/internal/rate"
	"github.com/joshsymonds/awayreply/internal/store"
)

// ErrCycleInFlight is returned when RunCycle is called while another cycle
// has not finished.
var ErrCycleInFlight = errors.New("poll cycle already in flight")

var errEmptyThread = errors.New("thread has no messages")

const (
	DefaultLabel    = "bali"
	DefaultBody     = "I am in Bali, ttyl."
	DefaultQuery    = "is:unread -from:me"
	DefaultPageSize = 100
)

func replyHeaders() []string {
	return []string{
		"From", "Reply-To", "Subject", "Message-ID", "References",
		"Auto-Submitted", "Precedence", "List-Id",
	}
}

// Options controls what a poll cycle looks for and what it sends.
type Options struct {
	Account  string // ledger key and log field
	From     string // optional From address; Gmail fills it in when empty
	Label    string
	Body     string
	Query    string
	PageSize int
	DryRun   bool

	// SkipAutomated leaves mailing lists, bulk mail, auto-replies and
	// robot senders unanswered. Off by default: every unreplied thread
	// gets a reply.
	SkipAutomated bool
}

// Ledger remembers threads that must not be replied to again.
type Ledger interface {
	IsHandled(ctx context.Context, account, threadID string) (bool, error)
	MarkHandled(ctx context.Context, h store.HandledThread) error
}

// CycleReport counts what one poll cycle did.
type CycleReport struct {
	Listed  int
	Replied int
	Skipped int
	Failed  int
}

// Service runs poll cycles against whatever client the Source provides.
type Service struct {
	Source  gmail.Source
	Limiter rate.Limiter
	Ledger  Ledger
	Logger  *slog.Logger
	Clock   func() time.Time
	Opts    Options

	running atomic.Bool
}

// NewService constructs a Service with defaults filled into opts.
func NewService(
	source gmail.Source,
	limiter rate.Limiter,
	ledger Ledger,
	logger *slog.Logger,
	opts Options,
) *Service {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	if opts.Label == "" {
		opts.Label = DefaultLabel
	}
	if opts.Body == "" {
		opts.Body = DefaultBody
	}
	if opts.Query == "" {
		opts.Query = DefaultQuery
	}
	if opts.PageSize <= 0 || opts.PageSize > 500 {
		opts.PageSize = DefaultPageSize
	}
	if opts.Account == "" {
		opts.Account = "me"
	}
	return &Service{
		Source:  source,
		Limiter: limiter,
		Ledger:  ledger,
		Logger:  logger,
		Clock:   time.Now,
		Opts:    opts,
	}
}

func (s *Service) wait(ctx context.Context) error {
	if s.Limiter == nil {
		return nil
	}
	return s.Limiter.Wait(ctx)
}

// EnsureLabel returns the id of the configured label, creating it when the
// mailbox does not have it yet. A create that races with another creator is
// resolved by listing again.
func (s *Service) EnsureLabel(ctx context.Context, client gmail.Client) (gmail.LabelID, error) {
	if id, ok, err := s.findLabel(ctx, client); err != nil || ok {
		return id, err
	}
	if err := s.wait(ctx); err != nil {
		return "", err
	}
	created, err := client.CreateLabel(ctx, s.Opts.Label)
	if errors.Is(err, gmail.ErrLabelExists) {
		s.Logger.InfoContext(ctx, "label already exists", "label", s.Opts.Label)
		id, ok, findErr := s.findLabel(ctx, client)
		if findErr != nil {
			return "", findErr
		}
		if !ok {
			return "", fmt.Errorf("label %q reported as existing but not listed", s.Opts.Label)
		}
		return id, nil
	}
	if err != nil {
		return "", err
	}
	s.Logger.InfoContext(ctx, "created label", "label", s.Opts.Label, "id", created.ID)
	return created.ID, nil
}

func (s *Service) findLabel(ctx context.Context, client gmail.Client) (gmail.LabelID, bool, error) {
	if err := s.wait(ctx); err != nil {
		return "", false, err
	}
	labels, err := client.ListLabels(ctx)
	if err != nil {
		return "", false, fmt.Errorf("list labels: %w", err)
	}
	for _, l := range labels {
		if l.Name == s.Opts.Label {
			return l.ID, true, nil
		}
	}
	return "", false, nil
}

// RunCycle performs one poll. Without held credentials it returns at once
// and makes no API calls. Failures on individual messages are logged and
// counted; only failures that stop the whole cycle are returned.
func (s *Service) RunCycle(ctx context.Context) (CycleReport, error) {
	var rep CycleReport
	if !s.running.CompareAndSwap(false, true) {
		s.Logger.WarnContext(ctx, "previous poll cycle still running; skipping")
		return rep, ErrCycleInFlight
	}
	defer s.running.Store(false)

	client, ok, err := s.Source.Client(ctx)
	if err != nil {
		return rep, fmt.Errorf("acquire client: %w", err)
	}
	if !ok {
		s.Logger.DebugContext(ctx, "no credentials held; skipping poll cycle")
		return rep, nil
	}

	s.Logger.InfoContext(ctx, "checking emails", "account", s.Opts.Account)
	labelID, err := s.EnsureLabel(ctx, client)
	if err != nil {
		return rep, fmt.Errorf("ensure label %q: %w", s.Opts.Label, err)
	}

	refs, err := s.listUnread(ctx, client)
	if err != nil {
		return rep, fmt.Errorf("list unread: %w", err)
	}
	rep.Listed = len(refs)
	if len(refs) == 0 {
		s.Logger.DebugContext(ctx, "no unread messages")
		return rep, nil
	}

	seen := map[gmail.ThreadID]struct{}{}
	for _, ref := range refs {
		if ctx.Err() != nil {
			return rep, ctx.Err()
		}
		replied, err := s.handle(ctx, client, labelID, ref, seen)
		if replied {
			rep.Replied++
		}
		if err != nil {
			rep.Failed++
			s.Logger.ErrorContext(ctx, "process message",
				"message", ref.ID, "thread", ref.ThreadID, "error", err)
			continue
		}
		if !replied {
			rep.Skipped++
		}
	}
	s.Logger.InfoContext(ctx, "poll cycle complete",
		"listed", rep.Listed, "replied", rep.Replied, "skipped", rep.Skipped, "failed", rep.Failed)
	return rep, nil
}

func (s *Service) listUnread(ctx context.Context, client gmail.Client) ([]gmail.MessageRef, error) {
	q := gmail.Query{Raw: s.Opts.Query}
	var all []gmail.MessageRef
	pageToken := ""
	for {
		if err := s.wait(ctx); err != nil {
			return nil, err
		}
		page, err := client.List(ctx, q, pageToken, s.Opts.PageSize)
		if err != nil {
			return nil, err
		}
		all = append(all, page.Refs...)
		if page.NextPageToken == "" {
			return all, nil
		}
		pageToken = page.NextPageToken
	}
}

// handle processes one unread message and reports whether a reply was sent.
func (s *Service) handle(
	ctx context.Context,
	client gmail.Client,
	labelID gmail.LabelID,
	ref gmail.MessageRef,
	seen map[gmail.ThreadID]struct{},
) (bool, error) {
	if err := s.wait(ctx); err != nil {
		return false, err
	}
	msg, err := client.GetMessage(ctx, ref.ID, replyHeaders())
	if err != nil {
		return false, fmt.Errorf("get message: %w", err)
	}
	threadID := msg.ThreadID
	if threadID == "" {
		threadID = ref.ThreadID
	}
	if _, dup := seen[threadID]; dup {
		return false, nil
	}
	seen[threadID] = struct{}{}

	if s.Ledger != nil {
		handled, err := s.Ledger.IsHandled(ctx, s.Opts.Account, string(threadID))
		if err != nil {
			return false, err
		}
		if handled {
			s.Logger.DebugContext(ctx, "thread already handled", "thread", threadID)
			return false, nil
		}
	}

	if err := s.wait(ctx); err != nil {
		return false, err
	}
	thread, err := client.GetThread(ctx, threadID, replyHeaders())
	if err != nil {
		return false, fmt.Errorf("get thread: %w", err)
	}
	if len(thread.Messages) == 0 {
		return false, errEmptyThread
	}
	if thread.Replied() {
		s.Logger.DebugContext(ctx, "thread already replied", "thread", threadID)
		return false, s.record(ctx, threadID, ref.ID, store.OutcomeAlreadyReplied)
	}

	first := thread.Messages[0]
	if reason := automatedReason(first); s.Opts.SkipAutomated && reason != "" {
		s.Logger.InfoContext(ctx, "not replying to automated mail",
			"thread", threadID, "reason", reason)
		return false, s.record(ctx, threadID, ref.ID, store.OutcomeAutomated)
	}

	raw, err := ComposeReply(first, s.Opts.From, s.Opts.Body, s.Clock())
	if err != nil {
		return false, fmt.Errorf("compose reply: %w", err)
	}
	if s.Opts.DryRun {
		s.Logger.InfoContext(ctx, "dry-run: would reply",
			"thread", threadID, "to", first.Header("From"), "subject", first.Header("Subject"))
		return true, nil
	}

	if err := s.wait(ctx); err != nil {
		return false, err
	}
	sentID, err := client.Send(ctx, raw, threadID)
	if err != nil {
		return false, fmt.Errorf("send reply: %w", err)
	}
	s.Logger.InfoContext(ctx, "sent reply", "thread", threadID, "sent", sentID)

	// Record before relabelling so a modify failure cannot lead to a second reply.
	// Relabel the whole thread so sibling unread messages are not left behind.
	recErr := s.record(ctx, threadID, ref.ID, store.OutcomeReplied)

	if err := s.wait(ctx); err != nil {
		return true, err
	}
	ops := gmail.ModifyOps{
		AddLabels:    []gmail.LabelID{labelID},
		RemoveLabels: []gmail.LabelID{gmail.LabelUnread},
	}
	if err := client.ModifyThread(ctx, threadID, ops); err != nil {
		return true, fmt.Errorf("label replied thread: %w", err)
	}
	s.Logger.InfoContext(ctx, "labelled and marked read", "thread", threadID, "label", s.Opts.Label)
	return true, recErr
}

func (s *Service) record(ctx context.Context, thread gmail.ThreadID, msg gmail.MessageID, outcome store.Outcome) error {
	if s.Ledger == nil || s.Opts.DryRun {
		return nil
	}
	return s.Ledger.MarkHandled(ctx, store.HandledThread{
		Account:   s.Opts.Account,
		ThreadID:  string(thread),
		MessageID: string(msg),
		Outcome:   outcome,
		HandledAt: s.Clock(),
	})
}
