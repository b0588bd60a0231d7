// Package notify renders local desktop notifications. Delivery is
// fire-and-forget: failures are logged by callers, never propagated into the
// reporting paths.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"time"
)

// Notifier shows a local notification.
type Notifier interface {
	Show(ctx context.Context, title, message string) error
}

// Command shells out to a notification binary (notify-send by default).
type Command struct {
	bin     string
	timeout time.Duration
}

// CommandOption configures a Command notifier.
type CommandOption func(*Command)

// WithBinary overrides the notification binary. Default: "notify-send".
func WithBinary(bin string) CommandOption {
	return func(c *Command) { c.bin = bin }
}

// WithTimeout bounds a single notification invocation. Default: 5s.
func WithTimeout(d time.Duration) CommandOption {
	return func(c *Command) { c.timeout = d }
}

// NewCommand creates an exec-based notifier.
func NewCommand(opts ...CommandOption) *Command {
	c := &Command{bin: "notify-send", timeout: 5 * time.Second}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Available reports whether the notification binary is on PATH.
func (c *Command) Available() bool {
	_, err := exec.LookPath(c.bin)
	return err == nil
}

// Show runs the binary with title and message.
func (c *Command) Show(ctx context.Context, title, message string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, c.bin, title, message)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("notify: %s: %w (%s)", c.bin, err, out)
	}
	return nil
}

// Log records notifications to the logger instead of the desktop. Used on
// headless hosts and in tests.
type Log struct {
	logger *slog.Logger
}

// NewLog creates a logging notifier.
func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger}
}

// Show logs the notification at info level.
func (l *Log) Show(_ context.Context, title, message string) error {
	l.logger.Info("notify: notification", "title", title, "message", message)
	return nil
}
