package listener

import (
	"context"
	"fmt"
	"log"
	"net"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

type httpListener struct {
	addr string
	app  *fiber.App
}

func newHTTP(addr string, paths []string, h *handler) *httpListener {
	app := fiber.New(fiber.Config{
		AppName:               "iot-gateway",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          10 * time.Second,
		BodyLimit:             64 * 1024,
	})
	app.Use(recover.New())

	ingest := func(c *fiber.Ctx) error {
		switch h.handle(c.UserContext(), c.Body()) {
		case StatusAccepted:
			return c.Status(fiber.StatusOK).SendString("OK HTTP")
		case StatusBadRequest:
			return c.Status(fiber.StatusBadRequest).SendString("Invalid JSON")
		default:
			return c.Status(fiber.StatusInternalServerError).SendString("Server Error")
		}
	}
	for _, p := range paths {
		app.Put(p, ingest)
		app.Post(p, ingest)
	}

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"time":   time.Now().UTC(),
		})
	})

	return &httpListener{addr: addr, app: app}
}

func (l *httpListener) Name() string { return "http" }

func (l *httpListener) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", l.addr)
	if err != nil {
		return fmt.Errorf("failed to bind HTTP listener on %s: %w", l.addr, err)
	}

	go func() {
		if err := l.app.Listener(ln); err != nil {
			log.Printf("Listener http: Server stopped: %v", err)
		}
	}()

	log.Printf("Listener http: Serving on %s", ln.Addr())
	return nil
}

func (l *httpListener) Shutdown(ctx context.Context) error {
	return l.app.ShutdownWithContext(ctx)
}
