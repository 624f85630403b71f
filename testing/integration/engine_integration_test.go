//go:build testing

package integration

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/zoobzio/xwalk"
	"github.com/zoobzio/xwalk/internal/store"
)

// shAvailable reports whether a POSIX shell is on PATH.
func shAvailable() bool {
	_, err := exec.LookPath("sh")
	return err == nil
}

func skipUnlessShell(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	if !shAvailable() {
		t.Skip("sh not available")
	}
}

// writeEngine writes a shell script standing in for the analysis engine.
func writeEngine(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "engine.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0755); err != nil {
		t.Fatalf("write engine script: %v", err)
	}
	return path
}

// syncBuffer is a bytes.Buffer safe for the copy goroutines of os/exec.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestExecLauncher_ExitCodeAndOutput(t *testing.T) {
	skipUnlessShell(t)

	var stdout, stderr syncBuffer
	cmd := xwalk.Command{Path: "sh", Args: []string{"-c", "echo out; echo err >&2; exit 3"}}
	proc, err := xwalk.ExecLauncher{}.Launch(context.Background(), cmd, &stdout, &stderr)
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	code, err := proc.Wait()
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if code != 3 {
		t.Errorf("exit code: got %d, want 3", code)
	}
	if got := stdout.String(); got != "out\n" {
		t.Errorf("stdout: got %q", got)
	}
	if got := stderr.String(); got != "err\n" {
		t.Errorf("stderr: got %q", got)
	}
}

func TestExecLauncher_EnvAndDir(t *testing.T) {
	skipUnlessShell(t)

	dir := t.TempDir()
	var stdout syncBuffer
	cmd := xwalk.Command{
		Path: "sh",
		Args: []string{"-c", `echo "$XWALK_TEST_VALUE"; pwd`},
		Dir:  dir,
		Env:  []string{"XWALK_TEST_VALUE=hello"},
	}
	proc, err := xwalk.ExecLauncher{}.Launch(context.Background(), cmd, &stdout, io.Discard)
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	if _, err := proc.Wait(); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(stdout.String()), "\n")
	if len(lines) != 2 || lines[0] != "hello" {
		t.Fatalf("unexpected output: %q", stdout.String())
	}
	want, _ := filepath.EvalSymlinks(dir)
	got, _ := filepath.EvalSymlinks(lines[1])
	if got != want {
		t.Errorf("working dir: got %q, want %q", got, want)
	}
}

func TestExecLauncher_Kill(t *testing.T) {
	skipUnlessShell(t)

	proc, err := xwalk.ExecLauncher{}.Launch(context.Background(),
		xwalk.Command{Path: "sh", Args: []string{"-c", "exec sleep 30"}}, io.Discard, io.Discard)
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	if err := proc.Kill(); err != nil {
		t.Fatalf("Kill: %v", err)
	}

	done := make(chan int, 1)
	go func() {
		code, _ := proc.Wait()
		done <- code
	}()
	select {
	case code := <-done:
		if code == 0 {
			t.Error("killed engine reported a clean exit")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("killed engine did not exit")
	}

	// Kill after exit is harmless.
	if err := proc.Kill(); err != nil {
		t.Errorf("second Kill: %v", err)
	}
}

func TestSupervisor_RealEngineToSQLite(t *testing.T) {
	skipUnlessShell(t)

	script := writeEngine(t, `
echo '{"status": "AI Engine starting..."}'
echo 'Ultralytics YOLOv8 loaded'
printf '{"event":"ANALYSIS_COMPLETE","file":"a.jpg",'
sleep 0.1
printf '"is_dangerous":true}\n'
echo '{"event":"ANALYSIS_COMPLETE","file":"b.jpg","is_dangerous":false}'
echo 'warming up' >&2
exit 1
`)

	ctx := context.Background()
	sink, err := store.Open(ctx, filepath.Join(t.TempDir(), "alerts.db"), nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer sink.Close()

	router := xwalk.NewRouter(sink, xwalk.RouterConfig{ImageBase: "http://localhost:5000/output_images"}, nil, nil)
	sup := xwalk.NewSupervisor(xwalk.ExecLauncher{}, router, xwalk.SupervisorConfig{
		Command: xwalk.Command{Path: "sh", Args: []string{script}},
		Policy:  xwalk.RestartPolicy{Delay: 50 * time.Millisecond, MaxRestarts: 1},
	})

	var stderrLines []string
	var evMu sync.Mutex
	collected := make(chan struct{})
	go func() {
		defer close(collected)
		for e := range sup.Events() {
			if e.Type == xwalk.EventStderr {
				evMu.Lock()
				stderrLines = append(stderrLines, e.Data)
				evMu.Unlock()
			}
		}
	}()

	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()
	err = sup.Run(runCtx)
	if !errors.Is(err, xwalk.ErrGaveUp) {
		t.Fatalf("Run: got %v, want ErrGaveUp", err)
	}
	<-collected

	alerts, err := sink.List(ctx, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(alerts) != 2 {
		t.Fatalf("got %d alerts, want one per engine run (2)", len(alerts))
	}
	for _, a := range alerts {
		if a.ImageURL != "http://localhost:5000/output_images/analyzed_a.jpg" {
			t.Errorf("ImageURL: got %q", a.ImageURL)
		}
		if !a.LEDActivated || !a.IsHazard || a.DetectedObjectsCount != 2 {
			t.Errorf("unexpected alert fields: %+v", a)
		}
	}
	if sup.Restarts() != 1 {
		t.Errorf("Restarts: got %d, want 1", sup.Restarts())
	}

	evMu.Lock()
	defer evMu.Unlock()
	if len(stderrLines) != 2 || stderrLines[0] != "warming up" {
		t.Errorf("stderr events: got %q", stderrLines)
	}
}

func TestSupervisor_MissingInterpreter(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	sup := xwalk.NewSupervisor(xwalk.ExecLauncher{}, xwalk.NewRouter(nil, xwalk.RouterConfig{}, nil, nil),
		xwalk.SupervisorConfig{Command: xwalk.Command{Path: "xwalk-no-such-python", Args: []string{"engine.py"}}})

	err := sup.Run(context.Background())
	var se *xwalk.SpawnError
	if !errors.As(err, &se) {
		t.Fatalf("got %v, want *SpawnError", err)
	}
	if se.Path != "xwalk-no-such-python" {
		t.Errorf("Path: got %q", se.Path)
	}
	if !errors.Is(err, exec.ErrNotFound) {
		t.Errorf("expected exec.ErrNotFound in chain, got %v", err)
	}
}
