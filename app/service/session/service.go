package session

import (
	"sync"
	"time"

	"serena/app/config"

	"github.com/samber/do"
)

type Stage int

const (
	// StagePrompt asks whether the user is still there.
	StagePrompt Stage = iota
	// StageSummary offers a summary of the conversation so far.
	StageSummary
)

type Handler func(userID string, stage Stage)

// Service keeps at most one armed inactivity timer per user. Arming
// supersedes any previous timer; a superseded callback checks its
// generation under the service mutex before acting, so it either already
// ran in full or never will. After the first fire a shorter follow-up
// timer is armed; after the second the user slot returns to idle.
type Service struct {
	idleDelay     time.Duration
	followUpDelay time.Duration

	mu      sync.Mutex
	slots   map[string]*slot
	handler Handler
}

type slot struct {
	generation uint64
	stage      Stage
	timer      *time.Timer
}

var _ do.Shutdownable = (*Service)(nil)

func New(di *do.Injector) (*Service, error) {
	cfg := do.MustInvoke[*config.Config](di)

	return NewService(
		time.Duration(cfg.Session.IdleSeconds)*time.Second,
		time.Duration(cfg.Session.FollowUpSeconds)*time.Second,
	), nil
}

func NewService(idleDelay, followUpDelay time.Duration) *Service {
	return &Service{
		idleDelay:     idleDelay,
		followUpDelay: followUpDelay,
		slots:         make(map[string]*slot),
	}
}

// SetHandler registers the fire callback. Must be called before Arm.
func (s *Service) SetHandler(handler Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.handler = handler
}

func (s *Service) IdleDelay() time.Duration {
	return s.idleDelay
}

// Arm schedules the inactivity prompt, cancelling any armed timer for the
// user. The effective measure is time since last message, since every
// accepted turn re-arms.
func (s *Service) Arm(userID string, delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.scheduleLocked(userID, delay, StagePrompt)
}

func (s *Service) Cancel(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sl := s.slots[userID]
	if sl == nil {
		return
	}

	sl.timer.Stop()
	delete(s.slots, userID)
}

func (s *Service) scheduleLocked(userID string, delay time.Duration, stage Stage) {
	sl := s.slots[userID]
	if sl == nil {
		sl = &slot{}
		s.slots[userID] = sl
	} else {
		sl.timer.Stop()
	}

	sl.generation++
	sl.stage = stage

	generation := sl.generation
	sl.timer = time.AfterFunc(delay, func() {
		s.fired(userID, generation)
	})
}

func (s *Service) fired(userID string, generation uint64) {
	s.mu.Lock()

	sl := s.slots[userID]
	if sl == nil || sl.generation != generation {
		// superseded or cancelled after the clock ran out
		s.mu.Unlock()
		return
	}

	stage := sl.stage
	if stage == StagePrompt {
		s.scheduleLocked(userID, s.followUpDelay, StageSummary)
	} else {
		delete(s.slots, userID)
	}

	handler := s.handler
	s.mu.Unlock()

	if handler != nil {
		handler(userID, stage)
	}
}

func (s *Service) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for userID, sl := range s.slots {
		sl.timer.Stop()
		delete(s.slots, userID)
	}

	return nil
}
