package main

import (
	"context"
	"diffusion/internal/config"
	"diffusion/internal/intake"
	"diffusion/internal/queuesim"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
)

// simulator is the in-process queue used in dummy mode.
type simulator struct {
	URL    string
	server *http.Server
}

func startSimulator(apiKey string) (*simulator, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("failed to listen for simulator: %w", err)
	}

	srv := &http.Server{Handler: queuesim.New(queuesim.Config{APIKey: apiKey}).Handler()}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Simulator stopped", "error", err)
		}
	}()

	return &simulator{URL: "http://" + ln.Addr().String(), server: srv}, nil
}

func (s *simulator) Close() error {
	return s.server.Close()
}

// openIntake connects the configured request source.
func openIntake(ctx context.Context, cfg *config.WorkerConfig) (intake.Queue, error) {
	switch cfg.Intake {
	case config.IntakeRedis:
		client, err := intake.DialRedis(ctx, cfg.RedisAddr, cfg.RedisDB)
		if err != nil {
			return nil, err
		}
		slog.Info("Connected to Redis", "addr", cfg.RedisAddr, "queue", cfg.InputQueue)
		return intake.NewRedisQueue(client, cfg.InputQueue, cfg.OutputQueue), nil

	case config.IntakeNATS:
		q, err := intake.DialNATS(cfg.NATSURL, cfg.InputSubject, cfg.OutputSubject)
		if err != nil {
			return nil, err
		}
		slog.Info("Connected to NATS", "url", cfg.NATSURL, "subject", cfg.InputSubject)
		return q, nil

	case config.IntakeOnce:
		req, err := intake.DecodeRequest([]byte(cfg.Prompt))
		if err != nil {
			return nil, err
		}
		return intake.NewOnceQueue(req, os.Stdout), nil

	default:
		return nil, fmt.Errorf("unknown intake %q", cfg.Intake)
	}
}
