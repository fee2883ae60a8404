package server

import (
	"log/slog"

	"serena/app/config"

	"github.com/gofiber/fiber/v2"
	"github.com/samber/do"
)

var _ do.Shutdownable = (*Service)(nil)

// Service is the keep-alive HTTP stub some hosting platforms expect in
// order to consider the process healthy.
type Service struct {
	cfg *config.Config
	app *fiber.App
}

func New(di *do.Injector) (*Service, error) {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	app.Get("/", func(c *fiber.Ctx) error {
		return c.SendString("Bot is up ✅")
	})

	return &Service{
		cfg: do.MustInvoke[*config.Config](di),
		app: app,
	}, nil
}

func (s *Service) Run() {
	if err := s.app.Listen(s.cfg.HTTP.Addr); err != nil {
		slog.Error("Keep-alive server stopped", "error", err)
	}
}

func (s *Service) Shutdown() error {
	return s.app.Shutdown()
}
