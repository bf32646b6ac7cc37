package config_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/tutorbotics/calliope/internal/config"
)

const watcherBaseYAML = `
server:
  log_level: info
providers:
  stt:
    name: azure
  tts:
    name: azure
  llm:
    name: flow
session:
  learner_id: pi_student
`

const watcherUpdatedYAML = `
server:
  log_level: debug
providers:
  stt:
    name: azure
  tts:
    name: azure
  llm:
    name: flow
session:
  learner_id: classroom_7b
`

// reloadRecorder collects onChange invocations from a watcher.
type reloadRecorder struct {
	mu       sync.Mutex
	old, new *config.Config
	count    int
	fired    chan struct{}
}

func newReloadRecorder() *reloadRecorder {
	return &reloadRecorder{fired: make(chan struct{}, 1)}
}

func (r *reloadRecorder) onChange(old, new *config.Config) {
	r.mu.Lock()
	r.old, r.new = old, new
	r.count++
	r.mu.Unlock()
	select {
	case r.fired <- struct{}{}:
	default:
	}
}

func (r *reloadRecorder) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

func startWatcher(t *testing.T, content string, rec *reloadRecorder) (*config.Watcher, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, content)

	var onChange func(old, new *config.Config)
	if rec != nil {
		onChange = rec.onChange
	}
	w, err := config.NewWatcher(path, onChange, config.WithInterval(50*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher() error: %v", err)
	}
	t.Cleanup(w.Stop)
	return w, path
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %q: %v", path, err)
	}
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()

	w, _ := startWatcher(t, watcherBaseYAML, nil)
	cfg := w.Current()
	if cfg == nil {
		t.Fatal("Current() is nil after construction")
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level = %q, want info", cfg.Server.LogLevel)
	}
}

func TestWatcher_ReloadsOnContentChange(t *testing.T) {
	t.Parallel()

	rec := newReloadRecorder()
	w, path := startWatcher(t, watcherBaseYAML, rec)

	time.Sleep(100 * time.Millisecond)
	writeFile(t, path, watcherUpdatedYAML)

	select {
	case <-rec.fired:
	case <-time.After(2 * time.Second):
		t.Fatal("onChange was not invoked")
	}

	rec.mu.Lock()
	old, new := rec.old, rec.new
	rec.mu.Unlock()
	if old == nil || new == nil {
		t.Fatal("onChange received nil configs")
	}
	if old.Server.LogLevel != config.LogInfo || new.Server.LogLevel != config.LogDebug {
		t.Errorf("log levels = %q -> %q, want info -> debug",
			old.Server.LogLevel, new.Server.LogLevel)
	}
	if new.Session.LearnerID != "classroom_7b" {
		t.Errorf("new learner_id = %q, want classroom_7b", new.Session.LearnerID)
	}
	if cur := w.Current(); cur.Server.LogLevel != config.LogDebug {
		t.Errorf("Current() log_level = %q, want debug", cur.Server.LogLevel)
	}
}

func TestWatcher_InvalidReloadKeepsPreviousConfig(t *testing.T) {
	t.Parallel()

	rec := newReloadRecorder()
	w, path := startWatcher(t, watcherBaseYAML, rec)

	time.Sleep(100 * time.Millisecond)
	writeFile(t, path, "server:\n  log_level: bananas\n")
	time.Sleep(300 * time.Millisecond)

	if n := rec.calls(); n != 0 {
		t.Errorf("onChange fired %d times for an invalid file, want 0", n)
	}
	if cur := w.Current(); cur.Server.LogLevel != config.LogInfo {
		t.Errorf("Current() log_level = %q, want the pre-reload info", cur.Server.LogLevel)
	}
}

func TestWatcher_MissingFileFailsConstruction(t *testing.T) {
	t.Parallel()

	if _, err := config.NewWatcher(filepath.Join(t.TempDir(), "absent.yaml"), nil); err == nil {
		t.Fatal("NewWatcher() succeeded for a missing file")
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	t.Parallel()

	w, _ := startWatcher(t, watcherBaseYAML, nil)
	w.Stop()
	w.Stop()
}

func TestWatcher_TouchWithoutContentChangeIsIgnored(t *testing.T) {
	t.Parallel()

	rec := newReloadRecorder()
	_, path := startWatcher(t, watcherBaseYAML, rec)

	time.Sleep(100 * time.Millisecond)
	future := time.Now().Add(time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatalf("touch: %v", err)
	}
	time.Sleep(300 * time.Millisecond)

	if n := rec.calls(); n != 0 {
		t.Errorf("onChange fired %d times for a touch-only change, want 0", n)
	}
}
