package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"serena/app/client/telegram"
	"serena/app/config"
	"serena/app/service/chunk"
	"serena/app/service/entitlement"
	"serena/app/service/session"
	"serena/app/util/kmutex"

	"github.com/samber/do"
)

const (
	maxDiagnosticLength = 300
	alertBurstWindow    = 5 * time.Minute
	summaryTimeout      = time.Minute
)

// Service orchestrates a conversational turn: quota check, session timer
// re-arm, completion call, chunked delivery. The per-user lock is held for
// the whole turn, which is what makes the charge-on-delivery accounting
// exactly-once under rapid double-sends.
type Service struct {
	cfg       *config.Config
	transport Transport
	completer Completer
	mood      MoodClassifier
	quota     *entitlement.Quota
	sessions  *session.Service

	turnLocks *kmutex.KeyedMutex
	alerts    alertLimiter

	mu        sync.Mutex
	histories map[string]*History
}

func New(di *do.Injector) (*Service, error) {
	cfg := do.MustInvoke[*config.Config](di)

	var mood MoodClassifier
	if cfg.OpenAI.Mood.Token != "" {
		mood = NewMoodAgent(createClient(cfg.OpenAI.Mood), cfg.OpenAI.Mood.Model)
	}

	s := NewService(
		cfg,
		do.MustInvoke[*telegram.Client](di),
		NewReplyAgent(createClient(cfg.OpenAI.Reply), cfg.OpenAI.Reply.Model),
		mood,
		do.MustInvoke[*entitlement.Quota](di),
		do.MustInvoke[*session.Service](di),
	)

	return s, nil
}

func NewService(
	cfg *config.Config,
	transport Transport,
	completer Completer,
	mood MoodClassifier,
	quota *entitlement.Quota,
	sessions *session.Service,
) *Service {
	s := &Service{
		cfg:       cfg,
		transport: transport,
		completer: completer,
		mood:      mood,
		quota:     quota,
		sessions:  sessions,
		turnLocks: kmutex.New(),
		alerts:    alertLimiter{window: alertBurstWindow},
		histories: make(map[string]*History),
	}

	sessions.SetHandler(s.handleIdle)

	return s
}

func (s *Service) ProcessTurn(ctx context.Context, userID, text string, receivedAt time.Time) error {
	unlock := s.turnLocks.Lock(userID)
	defer unlock()

	decision, err := s.quota.EvaluateTurn(ctx, userID, receivedAt)
	if err != nil {
		s.reportStorageFailure(userID, err)
		_ = s.transport.Deliver(userID, retryMessage)
		return fmt.Errorf("quota.EvaluateTurn: %w", err)
	}

	if !decision.Allowed {
		s.sessions.Cancel(userID)

		if err = s.transport.DeliverPlans(userID, upgradeMessage, s.cfg.Plans); err != nil {
			return fmt.Errorf("transport.DeliverPlans: %w", err)
		}

		return nil
	}

	s.sessions.Arm(userID, s.sessions.IdleDelay())

	history := s.history(userID)
	history.add(RoleUser, text)

	mood := s.classifyMood(ctx, text)

	reply, err := s.completer.Complete(ctx, s.systemPrompt(mood), history.snapshot())
	if err != nil {
		slog.Error("Completion failed",
			"user_id", userID,
			"error", truncate(err.Error(), maxDiagnosticLength),
		)
		_ = s.transport.Deliver(userID, apologyMessage)
		return fmt.Errorf("completer.Complete: %w", err)
	}

	history.add(RoleAssistant, reply)

	if s.deliverChunks(userID, reply) == 0 {
		// nothing reached the user, do not charge the turn
		return fmt.Errorf("no chunks delivered to user %s", userID)
	}

	if err = s.quota.CommitTurn(ctx, userID, receivedAt); err != nil {
		s.reportStorageFailure(userID, err)
		return fmt.Errorf("quota.CommitTurn: %w", err)
	}

	return nil
}

func (s *Service) HandleStart(ctx context.Context, userID string) error {
	unlock := s.turnLocks.Lock(userID)
	defer unlock()

	if _, err := s.quota.Register(ctx, userID); err != nil {
		s.reportStorageFailure(userID, err)
		_ = s.transport.Deliver(userID, retryMessage)
		return fmt.Errorf("quota.Register: %w", err)
	}

	welcome := fmt.Sprintf(welcomeTemplate, s.quota.FreeLimit())

	if err := s.transport.Deliver(userID, welcome); err != nil {
		return fmt.Errorf("transport.Deliver: %w", err)
	}

	return nil
}

func (s *Service) HandleHelp(userID string) error {
	if err := s.transport.Deliver(userID, helpMessage); err != nil {
		return fmt.Errorf("transport.Deliver: %w", err)
	}

	return nil
}

func (s *Service) HandleExercises(userID string) error {
	if s.deliverChunks(userID, exercisesText) == 0 {
		return fmt.Errorf("no chunks delivered to user %s", userID)
	}

	return nil
}

// handleIdle runs on the session timer goroutine. The first stage nudges
// the user; the second summarizes the buffered history and delivers it.
func (s *Service) handleIdle(userID string, stage session.Stage) {
	switch stage {
	case session.StagePrompt:
		if err := s.transport.Deliver(userID, stillThereMessage); err != nil {
			slog.Warn("Failed to deliver inactivity prompt", "user_id", userID, "error", err)
		}

	case session.StageSummary:
		ctx, cancel := context.WithTimeout(context.Background(), summaryTimeout)
		defer cancel()

		unlock := s.turnLocks.Lock(userID)
		defer unlock()

		history := s.history(userID)
		if history.empty() {
			return
		}

		summary, err := s.completer.Summarize(ctx, history.snapshot())
		if err != nil {
			slog.Error("Summary failed",
				"user_id", userID,
				"error", truncate(err.Error(), maxDiagnosticLength),
			)
			return
		}

		s.deliverChunks(userID, summary)
	}
}

// deliverChunks splits the reply and sends the chunks in order. Each chunk
// is retried at most once; a chunk that fails twice is dropped with an
// operator alert.
func (s *Service) deliverChunks(userID, text string) int {
	delivered := 0

	for _, ch := range chunk.Split(text, chunk.DefaultMaxSize) {
		err := s.transport.Deliver(userID, ch.Text)
		if err != nil {
			err = s.transport.Deliver(userID, ch.Text)
		}

		if err != nil {
			slog.Error("Dropped reply chunk",
				"user_id", userID,
				"chunk_index", ch.Index,
				"error", truncate(err.Error(), maxDiagnosticLength),
			)
			continue
		}

		delivered++
	}

	return delivered
}

func (s *Service) history(userID string) *History {
	s.mu.Lock()
	defer s.mu.Unlock()

	history := s.histories[userID]
	if history == nil {
		history = &History{}
		s.histories[userID] = history
	}

	return history
}

func (s *Service) classifyMood(ctx context.Context, text string) string {
	if s.mood == nil {
		return ""
	}

	mood, err := s.mood.Classify(ctx, text)
	if err != nil {
		slog.Warn("Mood classification failed", "error", err)
		return ""
	}

	return mood
}

func (s *Service) systemPrompt(mood string) string {
	note := ""
	if mood != "" {
		note = fmt.Sprintf("The user's last message reads as %s; acknowledge that gently.", mood)
	}

	return strings.TrimSpace(strings.ReplaceAll(replyPromptTemplate, "{mood_note}", note))
}

func (s *Service) reportStorageFailure(userID string, err error) {
	if s.alerts.allow(time.Now()) {
		slog.Error("User storage failure", "user_id", userID, "error", err)
	} else {
		slog.Warn("User storage failure (alert suppressed)", "user_id", userID, "error", err)
	}
}

// alertLimiter lets one operator alert through per burst window so a
// storage outage does not turn into an alert storm.
type alertLimiter struct {
	mu     sync.Mutex
	window time.Duration
	last   time.Time
}

func (l *alertLimiter) allow(now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.last.IsZero() && now.Sub(l.last) < l.window {
		return false
	}

	l.last = now
	return true
}
