package notify

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"

	"go.uber.org/zap"
)

// ErrUnsupported is returned by the desktop notifier on platforms without
// a known notification command.
var ErrUnsupported = errors.New("desktop notifications unsupported on this platform")

// Notifier delivers one rendered reminder.
type Notifier interface {
	Notify(ctx context.Context, title, body string) error
}

// Func adapts a function to Notifier.
type Func func(ctx context.Context, title, body string) error

func (f Func) Notify(ctx context.Context, title, body string) error {
	return f(ctx, title, body)
}

// LogNotifier writes reminders to the log. It is the fallback for channels
// without a configured notifier.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier returns a LogNotifier.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(_ context.Context, title, body string) error {
	n.logger.Info("reminder", zap.String("title", title), zap.String("body", body))
	return nil
}

// runFunc executes an external command.
type runFunc func(ctx context.Context, name string, args ...string) error

func runCommand(ctx context.Context, name string, args ...string) error {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// DesktopNotifier raises a native notification: osascript on darwin,
// notify-send on linux.
type DesktopNotifier struct {
	goos     string
	subtitle string
	run      runFunc
}

// NewDesktopNotifier returns a notifier for the running platform.
func NewDesktopNotifier() *DesktopNotifier {
	return &DesktopNotifier{goos: runtime.GOOS, subtitle: "Deadline Reminder", run: runCommand}
}

func (n *DesktopNotifier) Notify(ctx context.Context, title, body string) error {
	switch n.goos {
	case "darwin":
		script := fmt.Sprintf("display notification %s with title %s subtitle %s",
			appleScriptQuote(body), appleScriptQuote(title), appleScriptQuote(n.subtitle))
		return n.run(ctx, "osascript", "-e", script)
	case "linux":
		return n.run(ctx, "notify-send", "--app-name=deadlined", title, body)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupported, n.goos)
	}
}

func appleScriptQuote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
}
