package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"serena/app/client/telegram"
	"serena/app/config"
	"serena/app/service/conversation"
	"serena/app/service/queue"

	"github.com/samber/do"
	"golang.org/x/sync/errgroup"
)

const maxConcurrentTurns = 32

type Service struct {
	cfg             *config.Config
	telegramClient  *telegram.Client
	conversationSvc *conversation.Service
	queueSvc        *queue.Service
}

func New(di *do.Injector) (*Service, error) {
	return &Service{
		cfg:             do.MustInvoke[*config.Config](di),
		telegramClient:  do.MustInvoke[*telegram.Client](di),
		conversationSvc: do.MustInvoke[*conversation.Service](di),
		queueSvc:        do.MustInvoke[*queue.Service](di),
	}, nil
}

func (s *Service) Run(ctx context.Context) {
	s.telegramClient.SetListener(func(userID, command, text string, receivedAt time.Time) {
		s.queueSvc.Add(queue.Turn{
			UserID:     userID,
			Command:    command,
			Text:       text,
			ReceivedAt: receivedAt,
		})
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.telegramClient.Run(gctx)
	})

	g.Go(func() error {
		return s.consume(gctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("Engine stopped", "error", err)
	}
}

func (s *Service) consume(ctx context.Context) error {
	workers, wctx := errgroup.WithContext(ctx)
	workers.SetLimit(maxConcurrentTurns)
	defer func() {
		_ = workers.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case turn, ok := <-s.queueSvc.Channel():
			if !ok {
				return context.Canceled
			}

			workers.Go(func() error {
				s.handleTurn(wctx, turn)
				return nil
			})
		}
	}
}

func (s *Service) handleTurn(ctx context.Context, turn queue.Turn) {
	start := time.Now()

	var err error
	switch turn.Command {
	case "start":
		err = s.conversationSvc.HandleStart(ctx, turn.UserID)
	case "help", "ayuda":
		err = s.conversationSvc.HandleHelp(turn.UserID)
	case "exercises", "ejercicios":
		err = s.conversationSvc.HandleExercises(turn.UserID)
	case "":
		err = s.conversationSvc.ProcessTurn(ctx, turn.UserID, turn.Text, turn.ReceivedAt)
	default:
		err = s.conversationSvc.HandleHelp(turn.UserID)
	}

	if err != nil {
		slog.Warn("Turn processing error", "user_id", turn.UserID, "error", err)
	}

	slog.Info("Processed turn",
		"user_id", turn.UserID,
		"command", turn.Command,
		"duration", time.Since(start))
}
