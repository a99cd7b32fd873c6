package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

const (
	startupTimeout = 10 * time.Second
	pollInterval   = 100 * time.Millisecond
)

// lockedBuffer is a thread-safe wrapper around bytes.Buffer.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (lb *lockedBuffer) Write(p []byte) (int, error) {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	return lb.buf.Write(p)
}

func (lb *lockedBuffer) String() string {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	return lb.buf.String()
}

// serverProc holds the running server subprocess and its output.
type serverProc struct {
	cmd    *exec.Cmd
	stdout *lockedBuffer
	url    string
}

var (
	builtBinary string
	buildOnce   sync.Once
	buildErr    error
)

func getBinary(t *testing.T) string {
	t.Helper()
	buildOnce.Do(func() {
		dir, err := os.MkdirTemp("", "platform-e2e-*")
		if err != nil {
			buildErr = err
			return
		}
		binary := filepath.Join(dir, "testserver")
		cmd := exec.Command("go", "build", "-o", binary, "./cmd/testserver")
		cmd.Dir = findRepoRoot(t)
		out, err := cmd.CombinedOutput()
		if err != nil {
			buildErr = fmt.Errorf("go build failed: %w\n%s", err, out)
			return
		}
		builtBinary = binary
	})
	if buildErr != nil {
		t.Fatal(buildErr)
	}
	return builtBinary
}

func findRepoRoot(t *testing.T) string {
	t.Helper()
	dir, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatal("could not find repo root")
		}
		dir = parent
	}
}

func startServer(t *testing.T) *serverProc {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping e2e test in short mode")
	}
	binary := getBinary(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("find free port: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	stdout := &lockedBuffer{}
	cmd := exec.Command(binary)
	cmd.Env = append(os.Environ(),
		"PLATFORM_LISTEN_ADDR="+addr,
		"PLATFORM_LOG_LEVEL=debug",
		"PLATFORM_SHUTDOWN_DRAIN_TIMEOUT=1s",
	)
	cmd.Stdout = stdout
	cmd.Stderr = stdout

	if err := cmd.Start(); err != nil {
		t.Fatalf("start server: %v", err)
	}

	sp := &serverProc{
		cmd:    cmd,
		stdout: stdout,
		url:    "http://" + addr,
	}

	t.Cleanup(func() {
		cmd.Process.Kill()
		cmd.Wait()
		if t.Failed() {
			t.Logf("server output:\n%s", stdout.String())
		}
	})

	deadline := time.Now().Add(startupTimeout)
	for time.Now().Before(deadline) {
		resp, err := http.Get(sp.url + "/healthz")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return sp
			}
		}
		time.Sleep(pollInterval)
	}
	t.Fatalf("server did not become ready within %v\nstdout:\n%s", startupTimeout, stdout.String())
	return nil
}

// result mirrors the API's launch and stop response body.
type result struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	Message   string `json:"message"`
	ErrorKind string `json:"error_kind"`
}

// experiment is the subset of a record the flows check.
type experiment struct {
	ID        string `json:"id"`
	Kind      string `json:"kind"`
	Status    string `json:"status"`
	ErrorKind string `json:"error_kind"`
	ExitCode  *int   `json:"exit_code"`
}

func (sp *serverProc) post(t *testing.T, path, body string) (int, result) {
	t.Helper()
	resp, err := http.Post(sp.url+path, "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	var res result
	if err := json.Unmarshal(raw, &res); err != nil {
		t.Fatalf("POST %s: decode %q: %v", path, raw, err)
	}
	return resp.StatusCode, res
}

func (sp *serverProc) getJSON(t *testing.T, path string, v any) int {
	t.Helper()
	resp, err := http.Get(sp.url + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusOK && v != nil {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatalf("GET %s: decode: %v", path, err)
		}
	}
	return resp.StatusCode
}

// waitForJob polls a traffic job until it reaches want.
func (sp *serverProc) waitForJob(t *testing.T, id, want string, timeout time.Duration) experiment {
	t.Helper()
	deadline := time.Now().Add(timeout)
	var job experiment
	for time.Now().Before(deadline) {
		if sp.getJSON(t, "/api/traffic/jobs/"+id, &job) == http.StatusOK && job.Status == want {
			return job
		}
		time.Sleep(pollInterval)
	}
	t.Fatalf("job %s did not reach %q within %v, last: %+v", id, want, timeout, job)
	return job
}

// waitForFailure polls the active-failures list until id reaches want.
func (sp *serverProc) waitForFailure(t *testing.T, id, want string, timeout time.Duration) experiment {
	t.Helper()
	deadline := time.Now().Add(timeout)
	var last experiment
	for time.Now().Before(deadline) {
		var body struct {
			Failures []experiment `json:"failures"`
		}
		sp.getJSON(t, "/api/failures/active", &body)
		for _, f := range body.Failures {
			if f.ID == id {
				last = f
				if f.Status == want {
					return f
				}
			}
		}
		time.Sleep(pollInterval)
	}
	t.Fatalf("failure %s did not reach %q within %v, last: %+v", id, want, timeout, last)
	return last
}
