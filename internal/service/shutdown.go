package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/anatoly-dev/game-realtime/pkg/websocket"
	"go.uber.org/zap"
)

type Drainer interface {
	StopAccepting()
	NotifyShutdown(grace time.Duration) int
	ConnectionCount() int
	CloseAll(reason string) int
	WaitSessions(ctx context.Context) error
}

// ShutdownCoordinator drains clients in order: refuse new connections, warn
// the connected ones, give them the grace period to leave, close the rest,
// then stop periodic tasks.
type ShutdownCoordinator struct {
	drainer      Drainer
	grace        time.Duration
	pollInterval time.Duration
	logger       *zap.Logger

	stopTasks context.CancelFunc
	waitTasks func() error

	once sync.Once
	err  error
}

func NewShutdownCoordinator(drainer Drainer, grace time.Duration, logger *zap.Logger) *ShutdownCoordinator {
	return &ShutdownCoordinator{
		drainer:      drainer,
		grace:        grace,
		pollInterval: 100 * time.Millisecond,
		logger:       logger,
	}
}

// SetTasks hands over the cancel and wait functions of the background task group.
func (c *ShutdownCoordinator) SetTasks(stop context.CancelFunc, wait func() error) {
	c.stopTasks = stop
	c.waitTasks = wait
}

// Shutdown runs the drain sequence once; later calls return the first result.
func (c *ShutdownCoordinator) Shutdown(ctx context.Context) error {
	c.once.Do(func() {
		c.err = c.shutdown(ctx)
	})
	return c.err
}

func (c *ShutdownCoordinator) shutdown(ctx context.Context) error {
	c.drainer.StopAccepting()

	notified := c.drainer.NotifyShutdown(c.grace)
	c.logger.Info("Draining connections",
		zap.Int("notified", notified),
		zap.Duration("gracePeriod", c.grace))

	c.waitForClients(ctx)

	closed := c.drainer.CloseAll(websocket.ReasonServerShutdown)
	c.logger.Info("Closed remaining connections", zap.Int("closed", closed))

	var taskErr error
	if c.stopTasks != nil {
		c.stopTasks()
	}
	if c.waitTasks != nil {
		taskErr = c.waitTasks()
	}

	if err := c.drainer.WaitSessions(ctx); err != nil {
		return fmt.Errorf("failed to wait for sessions: %w", err)
	}
	if taskErr != nil {
		return fmt.Errorf("background task failed: %w", taskErr)
	}
	return nil
}

func (c *ShutdownCoordinator) waitForClients(ctx context.Context) {
	if c.drainer.ConnectionCount() == 0 {
		return
	}

	timer := time.NewTimer(c.grace)
	defer timer.Stop()
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-timer.C:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if c.drainer.ConnectionCount() == 0 {
				c.logger.Info("All clients disconnected before grace period ended")
				return
			}
		}
	}
}
