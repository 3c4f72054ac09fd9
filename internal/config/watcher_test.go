package config_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrWong99/copyedit/internal/config"
)

const baseYAML = `
server:
  log_level: info
providers:
  llm:
    name: openai
pipeline:
  max_passes: 3
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %q: %v", path, err)
	}
}

// newWatcher writes content to a fresh config file and watches it. Every
// applied change is sent on the returned channel.
func newWatcher(t *testing.T, name, content string) (*config.Watcher, string, <-chan config.ConfigDiff) {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	writeFile(t, path, content)

	changes := make(chan config.ConfigDiff, 4)
	w, err := config.NewWatcher(path, func(_, _ *config.Config, d config.ConfigDiff) {
		changes <- d
	}, config.WithInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	return w, path, changes
}

func TestWatcher_Reload(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		content    string
		wantErr    error
		wantDiff   config.ConfigDiff
		wantLevel  config.LogLevel
		wantTypos  int
		wantInvoke bool
	}{
		{
			name:      "same content",
			content:   baseYAML,
			wantErr:   config.ErrUnchanged,
			wantLevel: config.LogInfo,
		},
		{
			name:       "hot fields",
			content:    "server:\n  log_level: debug\npipeline:\n  extra_typos:\n    thier: their\n",
			wantDiff:   config.ConfigDiff{LogLevelChanged: true, NewLogLevel: config.LogDebug, TyposChanged: true, RestartRequired: []string{"providers"}},
			wantLevel:  config.LogDebug,
			wantTypos:  1,
			wantInvoke: true,
		},
		{
			name:      "invalid file",
			content:   "server:\n  log_level: bananas\n",
			wantErr:   config.ErrInvalid,
			wantLevel: config.LogInfo,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			w, path, changes := newWatcher(t, "config.yaml", baseYAML)
			writeFile(t, path, tt.content)

			d, err := w.Reload()
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Reload error = %v, want %v", err, tt.wantErr)
				}
			} else if err != nil {
				t.Fatalf("Reload: %v", err)
			}

			if got := w.Current().Server.LogLevel; got != tt.wantLevel {
				t.Errorf("log level = %q, want %q", got, tt.wantLevel)
			}
			if got := len(w.Current().Pipeline.ExtraTypos); got != tt.wantTypos {
				t.Errorf("extra typos = %d, want %d", got, tt.wantTypos)
			}
			if tt.wantErr == nil {
				if d.LogLevelChanged != tt.wantDiff.LogLevelChanged ||
					d.NewLogLevel != tt.wantDiff.NewLogLevel ||
					d.TyposChanged != tt.wantDiff.TyposChanged ||
					d.RateLimitChanged != tt.wantDiff.RateLimitChanged {
					t.Errorf("diff = %+v, want %+v", d, tt.wantDiff)
				}
			}

			select {
			case <-changes:
				if !tt.wantInvoke {
					t.Error("callback invoked unexpectedly")
				}
			default:
				if tt.wantInvoke {
					t.Error("callback not invoked")
				}
			}
		})
	}
}

func TestWatcher_RunPicksUpEdits(t *testing.T) {
	t.Parallel()
	w, path, changes := newWatcher(t, "config.toml", "[server]\nlog_level = \"warn\"\n")
	if got := w.Current().Server.LogLevel; got != config.LogWarn {
		t.Fatalf("initial log level = %q, want %q", got, config.LogWarn)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	// Replace the file atomically so a poll never sees it half-written.
	tmp := path + ".tmp"
	writeFile(t, tmp, "[server]\nlog_level = \"warn\"\n\n[rate_limit]\nrequests_per_minute = 10.0\n")
	if err := os.Rename(tmp, path); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	// Some filesystems have coarse mtimes; make sure the edit is visible.
	later := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}

	select {
	case d := <-changes:
		if !d.RateLimitChanged || d.LogLevelChanged {
			t.Errorf("diff = %+v, want only the rate limit changed", d)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("edit not picked up")
	}
}

func TestWatcher_TouchDoesNotNotify(t *testing.T) {
	t.Parallel()
	w, path, changes := newWatcher(t, "config.yaml", baseYAML)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	later := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}
	w.Run(ctx)

	select {
	case d := <-changes:
		t.Errorf("callback fired for a touch: %+v", d)
	default:
	}
}

func TestWatcher_MissingFile(t *testing.T) {
	t.Parallel()
	_, err := config.NewWatcher(filepath.Join(t.TempDir(), "absent.yaml"), nil)
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("error = %v, want os.ErrNotExist", err)
	}
}
