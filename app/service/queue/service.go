package queue

import (
	"log/slog"
	"time"

	"github.com/samber/do"
)

const bufferSize = 64

var _ do.Shutdownable = (*Service)(nil)

type Service struct {
	queue chan Turn
}

// Turn is one inbound message waiting to be processed. Command is empty
// for plain conversational text.
type Turn struct {
	UserID     string
	Command    string
	Text       string
	ReceivedAt time.Time
}

func New(_ *do.Injector) (*Service, error) {
	return &Service{
		queue: make(chan Turn, bufferSize),
	}, nil
}

func (s *Service) Add(turn Turn) {
	defer func() {
		if r := recover(); r != nil {

		}
	}()

	select {
	case s.queue <- turn:
	default:
		slog.Warn("turn queue is full")
	}
}

func (s *Service) Channel() <-chan Turn {
	return s.queue
}

func (s *Service) Shutdown() error {
	close(s.queue)

	return nil
}
