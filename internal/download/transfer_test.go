package download

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func testPayload(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

func serveBytes(data []byte) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "model.gguf", time.Time{}, bytes.NewReader(data))
	}
}

// recorder is an Observer that keeps every notification.
type recorder struct {
	mu       sync.Mutex
	values   []float64
	finished int
	failed   []error
}

func (r *recorder) OnProgress(f float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values = append(r.values, f)
}

func (r *recorder) OnFinished() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished++
}

func (r *recorder) OnFailed(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed = append(r.failed, err)
}

func (r *recorder) check(t *testing.T, wantSuccess bool) {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := 1; i < len(r.values); i++ {
		if r.values[i] < r.values[i-1] {
			t.Errorf("progress decreased: %v", r.values)
			break
		}
	}
	for _, v := range r.values {
		if v < 0 || v > 1 {
			t.Errorf("progress out of range: %v", v)
		}
	}

	if wantSuccess {
		if r.finished != 1 || len(r.failed) != 0 {
			t.Errorf("finished = %d, failed = %v; want one finish", r.finished, r.failed)
		}
		if len(r.values) == 0 || r.values[len(r.values)-1] != 1 {
			t.Errorf("final progress = %v, want 1", r.values)
		}
		return
	}

	if r.finished != 0 || len(r.failed) != 1 {
		t.Errorf("finished = %d, failed = %v; want one failure", r.finished, r.failed)
	}
	for _, v := range r.values {
		if v == 1 {
			t.Errorf("progress reached 1 on a failed download: %v", r.values)
		}
	}
}

func fastOptions() Options {
	return Options{Retries: 3, RetryDelay: time.Millisecond}
}

func TestTransferDownloadsFile(t *testing.T) {
	data := testPayload(100_000)
	server := httptest.NewServer(serveBytes(data))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "models", "model.gguf")
	obs := &recorder{}
	transfer := NewTransfer(server.URL+"/model.gguf", dest, fastOptions()).WithObserver(obs)

	if err := transfer.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Error("downloaded content differs")
	}
	if _, err := os.Stat(dest + PartialSuffix); !os.IsNotExist(err) {
		t.Error("partial file should be renamed away")
	}
	if transfer.Progress() != 1 {
		t.Errorf("Progress() = %v, want 1", transfer.Progress())
	}
	obs.check(t, true)
}

func TestTransferSendsHeaders(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	opts := fastOptions()
	opts.Header = http.Header{"Authorization": {"Bearer tok"}}
	dest := filepath.Join(t.TempDir(), "f")
	if err := NewTransfer(server.URL, dest, opts).Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if gotAuth != "Bearer tok" {
		t.Errorf("Authorization = %q, want Bearer tok", gotAuth)
	}
}

func TestTransferResumes(t *testing.T) {
	data := testPayload(50_000)
	var gotRange string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRange = r.Header.Get("Range")
		serveBytes(data)(w, r)
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "model.gguf")
	if err := os.WriteFile(dest+PartialSuffix, data[:20_000], 0644); err != nil {
		t.Fatal(err)
	}

	obs := &recorder{}
	if err := NewTransfer(server.URL, dest, fastOptions()).WithObserver(obs).Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if gotRange != "bytes=20000-" {
		t.Errorf("Range = %q, want bytes=20000-", gotRange)
	}
	got, _ := os.ReadFile(dest)
	if !bytes.Equal(got, data) {
		t.Error("resumed content differs")
	}
	obs.check(t, true)
}

func TestTransferRestartsWhenRangeIgnored(t *testing.T) {
	data := testPayload(30_000)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// always the whole file with 200
		w.Write(data)
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "model.gguf")
	if err := os.WriteFile(dest+PartialSuffix, []byte("stale bytes from another file"), 0644); err != nil {
		t.Fatal(err)
	}

	obs := &recorder{}
	if err := NewTransfer(server.URL, dest, fastOptions()).WithObserver(obs).Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	got, _ := os.ReadFile(dest)
	if !bytes.Equal(got, data) {
		t.Error("content should be replaced, not appended")
	}
	obs.check(t, true)
}

func TestTransferWholeFileAsRange(t *testing.T) {
	data := testPayload(20)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// answers every resume with the complete file
		w.Header().Set("Content-Range", "bytes 0-19/20")
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.WriteHeader(http.StatusPartialContent)
		w.Write(data)
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "model.gguf")
	if err := os.WriteFile(dest+PartialSuffix, data[:5], 0644); err != nil {
		t.Fatal(err)
	}

	obs := &recorder{}
	if err := NewTransfer(server.URL, dest, fastOptions()).WithObserver(obs).Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	got, _ := os.ReadFile(dest)
	if !bytes.Equal(got, data) {
		t.Errorf("content = %v (len %d), want the file once", got, len(got))
	}
	obs.check(t, true)
}

func TestTransferMisalignedRange(t *testing.T) {
	data := testPayload(20)
	var calls atomic.Int32
	var lastRange atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lastRange.Store(r.Header.Get("Range"))
		if calls.Add(1) == 1 {
			w.Header().Set("Content-Range", "bytes 3-19/20")
			w.Header().Set("Content-Length", "17")
			w.WriteHeader(http.StatusPartialContent)
			w.Write(data[3:])
			return
		}
		serveBytes(data)(w, r)
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "model.gguf")
	if err := os.WriteFile(dest+PartialSuffix, data[:5], 0644); err != nil {
		t.Fatal(err)
	}

	if err := NewTransfer(server.URL, dest, fastOptions()).Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if calls.Load() != 2 {
		t.Errorf("requests = %d, want 2", calls.Load())
	}
	if got := lastRange.Load(); got != "" {
		t.Errorf("retry Range = %q, want a fresh download", got)
	}
	got, _ := os.ReadFile(dest)
	if !bytes.Equal(got, data) {
		t.Errorf("content = %v, want %v", got, data)
	}
}

func TestTransferSizeMismatch(t *testing.T) {
	data := testPayload(20)
	server := httptest.NewServer(serveBytes(data))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "model.gguf")
	opts := fastOptions()
	opts.Retries = 0

	err := NewTransfer(server.URL, dest, opts).WithSize(30).Run(context.Background())
	if err == nil {
		t.Fatal("Run() error = nil, want size mismatch")
	}
	if _, err := os.Stat(dest); !os.IsNotExist(err) {
		t.Error("destination should not exist after a size mismatch")
	}
}

func TestParseContentRange(t *testing.T) {
	tests := []struct {
		in        string
		wantStart int64
		wantSize  int64
		wantOK    bool
	}{
		{"bytes 5-19/20", 5, 20, true},
		{"bytes 0-19/*", 0, -1, true},
		{"bytes */20", -1, 20, true},
		{"bytes 5-19", -1, -1, false},
		{"items 0-1/2", -1, -1, false},
		{"", -1, -1, false},
		{"bytes x-19/20", -1, -1, false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			start, size, ok := parseContentRange(tt.in)
			if start != tt.wantStart || size != tt.wantSize || ok != tt.wantOK {
				t.Errorf("parseContentRange(%q) = %d, %d, %v; want %d, %d, %v",
					tt.in, start, size, ok, tt.wantStart, tt.wantSize, tt.wantOK)
			}
		})
	}
}

func TestTransferCompletePartial(t *testing.T) {
	data := testPayload(1_000)
	server := httptest.NewServer(serveBytes(data))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "model.gguf")
	if err := os.WriteFile(dest+PartialSuffix, data, 0644); err != nil {
		t.Fatal(err)
	}

	if err := NewTransfer(server.URL, dest, fastOptions()).Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	got, _ := os.ReadFile(dest)
	if !bytes.Equal(got, data) {
		t.Error("content differs")
	}
}

func TestTransferSkipsExisting(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "model.gguf")
	if err := os.WriteFile(dest, []byte("done"), 0644); err != nil {
		t.Fatal(err)
	}

	obs := &recorder{}
	if err := NewTransfer(server.URL, dest, fastOptions()).WithObserver(obs).Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if calls.Load() != 0 {
		t.Errorf("requests = %d, want 0", calls.Load())
	}
	obs.check(t, true)
}

func TestTransferNotFound(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "model.gguf")
	obs := &recorder{}
	err := NewTransfer(server.URL+"/missing.gguf", dest, fastOptions()).WithObserver(obs).Run(context.Background())
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Run() error = %v, want ErrNotFound", err)
	}

	var terr *TransferError
	if !errors.As(err, &terr) || terr.StatusCode != http.StatusNotFound || terr.Path != dest {
		t.Errorf("TransferError = %+v", terr)
	}
	if calls.Load() != 1 {
		t.Errorf("requests = %d, want 1 (404 is not retried)", calls.Load())
	}
	obs.check(t, false)
}

func TestTransferRetriesServerErrors(t *testing.T) {
	data := testPayload(5_000)
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		serveBytes(data)(w, r)
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "model.gguf")
	if err := NewTransfer(server.URL, dest, fastOptions()).Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("requests = %d, want 3", calls.Load())
	}
}

func TestTransferGivesUpAfterRetries(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	opts := Options{Retries: 2, RetryDelay: time.Millisecond}
	err := NewTransfer(server.URL, filepath.Join(t.TempDir(), "m"), opts).Run(context.Background())

	var terr *TransferError
	if !errors.As(err, &terr) || terr.StatusCode != http.StatusBadGateway {
		t.Fatalf("Run() error = %v, want HTTP 502 TransferError", err)
	}
	if calls.Load() != 3 {
		t.Errorf("requests = %d, want 3", calls.Load())
	}
}

func TestTransferCancelKeepsPartial(t *testing.T) {
	data := testPayload(200_000)
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "200000")
		w.Write(data[:50_000])
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dest := filepath.Join(t.TempDir(), "model.gguf")
	obs := &recorder{}
	var once sync.Once
	transfer := NewTransfer(server.URL, dest, fastOptions()).WithObserver(ObserverFuncs{
		Progress: func(f float64) {
			obs.OnProgress(f)
			once.Do(cancel)
		},
		Finished: obs.OnFinished,
		Failed:   obs.OnFailed,
	})

	err := transfer.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}

	info, statErr := os.Stat(dest + PartialSuffix)
	if statErr != nil {
		t.Fatalf("partial file missing: %v", statErr)
	}
	if info.Size() == 0 || info.Size() >= int64(len(data)) {
		t.Errorf("partial size = %d, want between 0 and %d", info.Size(), len(data))
	}
	if _, err := os.Stat(dest); !os.IsNotExist(err) {
		t.Error("destination should not exist after cancellation")
	}
	obs.check(t, false)
}

func TestTransferSize(t *testing.T) {
	data := testPayload(4_321)
	var methods []string
	var mu sync.Mutex
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		methods = append(methods, r.Method)
		mu.Unlock()
		serveBytes(data)(w, r)
	}))
	defer server.Close()

	dir := t.TempDir()

	size, err := NewTransfer(server.URL, filepath.Join(dir, "a"), fastOptions()).Size(context.Background())
	if err != nil || size != 4_321 {
		t.Errorf("Size() = %d, %v; want 4321", size, err)
	}
	if len(methods) != 1 || methods[0] != http.MethodHead {
		t.Errorf("methods = %v, want one HEAD", methods)
	}

	size, err = NewTransfer(server.URL, filepath.Join(dir, "b"), fastOptions()).WithSize(99).Size(context.Background())
	if err != nil || size != 99 {
		t.Errorf("Size() with hint = %d, %v; want 99", size, err)
	}
	if len(methods) != 1 {
		t.Errorf("size hint should skip the HEAD request, methods = %v", methods)
	}
}

func TestTransferErrorMessage(t *testing.T) {
	withStatus := &TransferError{URL: "https://x/y", StatusCode: 500}
	if got := withStatus.Error(); got != "download https://x/y failed: HTTP 500" {
		t.Errorf("Error() = %q", got)
	}

	withErr := &TransferError{URL: "https://x/y", Err: context.Canceled}
	if got := withErr.Error(); got != "download https://x/y failed: context canceled" {
		t.Errorf("Error() = %q", got)
	}
	if errors.Is(withErr, ErrNotFound) {
		t.Error("non-404 error should not match ErrNotFound")
	}
}
