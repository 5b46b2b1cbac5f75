package delivery

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/MobileShell/gateway/internal/infrastructure/logging"
	"github.com/GriffinCanCode/MobileShell/gateway/internal/platform"
	"github.com/GriffinCanCode/MobileShell/gateway/internal/shared/id"
	"github.com/GriffinCanCode/MobileShell/gateway/internal/shared/notify"
)

// Each test gets its own port window so parallel packages cannot collide.
var portCursor atomic.Int32

func init() { portCursor.Store(45200) }

func nextPortRange() (int, int) {
	start := int(portCursor.Add(10))
	return start, start + 9
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *recordingNotifier) Notify(event string, payload map[string]any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func (n *recordingNotifier) seen(event string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, e := range n.events {
		if e == event {
			return true
		}
	}
	return false
}

type serverOpts struct {
	clock    platform.Clock
	notifier notify.Notifier
	roots    []string
	fileTTL  time.Duration
}

func newTestServer(t *testing.T, opts serverOpts) *Server {
	t.Helper()
	start, end := nextPortRange()

	ttl := opts.fileTTL
	if ttl == 0 {
		ttl = 30 * time.Minute
	}
	p := platform.Real()
	if opts.clock != nil {
		p.Clock = opts.clock
	}

	s := New(Config{
		PortRangeStart: start,
		PortRangeEnd:   end,
		CacheDir:       filepath.Join(t.TempDir(), "delivery-cache"),
		AllowedRoots:   opts.roots,
		FileTTL:        ttl,
		SweepInterval:  time.Minute,
		ConnTimeout:    5 * time.Second,
		MaxConnections: 10,
	}, Deps{
		Logger:   logging.NewNop(),
		Platform: p,
		Notifier: opts.notifier,
	})
	t.Cleanup(s.Stop)
	return s
}

func writeTempFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func httpGet(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(url)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()
	return resp, body
}

func TestStartIdempotent(t *testing.T) {
	s := newTestServer(t, serverOpts{})

	first, err := s.Start()
	require.NoError(t, err)
	second, err := s.Start()
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.True(t, s.Running())
	assert.Len(t, first.SessionID.String(), 32)
	assert.Contains(t, first.BaseURL, fmt.Sprintf("http://127.0.0.1:%d/framework-", first.Port))
}

func TestRegisterAndServe(t *testing.T) {
	docs := t.TempDir()
	s := newTestServer(t, serverOpts{roots: []string{docs}})
	_, err := s.Start()
	require.NoError(t, err)

	path := writeTempFile(t, docs, "photo.png", "\x89PNG\r\n\x1a\nfakeimage")
	url, err := s.Register(path, "photo.png", "image/png")
	require.NoError(t, err)

	resp, body := httpGet(t, url)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "\x89PNG\r\n\x1a\nfakeimage", string(body))
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	assert.Equal(t, "no-store", resp.Header.Get("Cache-Control"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "inline")
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "photo.png")
}

func TestRegisterSniffsMimeType(t *testing.T) {
	docs := t.TempDir()
	s := newTestServer(t, serverOpts{roots: []string{docs}})
	_, err := s.Start()
	require.NoError(t, err)

	path := writeTempFile(t, docs, "note.txt", "plain text payload")
	url, err := s.Register(path, "", "")
	require.NoError(t, err)

	resp, _ := httpGet(t, url)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/plain")
}

func TestRegisterTwiceYieldsDistinctURLs(t *testing.T) {
	docs := t.TempDir()
	s := newTestServer(t, serverOpts{roots: []string{docs}})
	_, err := s.Start()
	require.NoError(t, err)

	path := writeTempFile(t, docs, "doc.pdf", "%PDF-1.4 payload")
	first, err := s.Register(path, "doc.pdf", "application/pdf")
	require.NoError(t, err)
	second, err := s.Register(path, "doc.pdf", "application/pdf")
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	for _, u := range []string{first, second} {
		resp, body := httpGet(t, u)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "%PDF-1.4 payload", string(body))
	}
	assert.Equal(t, 2, s.ServedCount())
}

func TestWrongSessionIDGets404(t *testing.T) {
	docs := t.TempDir()
	s := newTestServer(t, serverOpts{roots: []string{docs}})
	info, err := s.Start()
	require.NoError(t, err)

	path := writeTempFile(t, docs, "a.txt", "data")
	url, err := s.Register(path, "a.txt", "text/plain")
	require.NoError(t, err)

	forged := strings.Replace(url, info.SessionID.String(), strings.Repeat("00", 16), 1)
	resp, _ := httpGet(t, forged)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = httpGet(t, fmt.Sprintf("http://127.0.0.1:%d/unrelated", info.Port))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRestartInvalidatesOldURLs(t *testing.T) {
	docs := t.TempDir()
	s := newTestServer(t, serverOpts{roots: []string{docs}})
	first, err := s.Start()
	require.NoError(t, err)

	path := writeTempFile(t, docs, "old.txt", "old payload")
	oldURL, err := s.Register(path, "old.txt", "text/plain")
	require.NoError(t, err)

	s.Stop()
	assert.False(t, s.Running())

	second, err := s.Start()
	require.NoError(t, err)
	assert.NotEqual(t, first.SessionID, second.SessionID)

	// The old URL may even point at a different port; retarget it to the
	// live one to prove the session check alone kills it.
	retargeted := strings.Replace(oldURL,
		fmt.Sprintf(":%d/", first.Port), fmt.Sprintf(":%d/", second.Port), 1)
	resp, _ := httpGet(t, retargeted)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	newURL, err := s.Register(path, "old.txt", "text/plain")
	require.NoError(t, err)
	resp, body := httpGet(t, newURL)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "old payload", string(body))
}

func TestStatusRoute(t *testing.T) {
	docs := t.TempDir()
	s := newTestServer(t, serverOpts{roots: []string{docs}})
	info, err := s.Start()
	require.NoError(t, err)

	path := writeTempFile(t, docs, "x.bin", "x")
	_, err = s.Register(path, "x.bin", "application/octet-stream")
	require.NoError(t, err)

	resp, body := httpGet(t, info.BaseURL+"/status")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var status struct {
		SessionID   string `json:"session_id"`
		Port        int    `json:"port"`
		ServedFiles int    `json:"served_files"`
	}
	require.NoError(t, json.Unmarshal(body, &status))
	assert.Equal(t, info.SessionID.String(), status.SessionID)
	assert.Equal(t, info.Port, status.Port)
	assert.Equal(t, 1, status.ServedFiles)
}

func TestRegisterRejectsOutsidePaths(t *testing.T) {
	docs := t.TempDir()
	outside := t.TempDir()
	s := newTestServer(t, serverOpts{roots: []string{docs}})
	_, err := s.Start()
	require.NoError(t, err)

	outsideFile := writeTempFile(t, outside, "secret.txt", "secret")
	_, err = s.Register(outsideFile, "secret.txt", "text/plain")
	assert.ErrorIs(t, err, ErrPathRejected)

	// A symlink planted inside an allowed root must not leak the target.
	link := filepath.Join(docs, "sneaky.txt")
	require.NoError(t, os.Symlink(outsideFile, link))
	_, err = s.Register(link, "sneaky.txt", "text/plain")
	assert.ErrorIs(t, err, ErrPathRejected)
}

func TestUnregister(t *testing.T) {
	docs := t.TempDir()
	s := newTestServer(t, serverOpts{roots: []string{docs}})
	_, err := s.Start()
	require.NoError(t, err)

	path := writeTempFile(t, docs, "gone.txt", "bye")
	url, err := s.Register(path, "gone.txt", "text/plain")
	require.NoError(t, err)

	fid := fileIDFromURL(t, url)
	require.NoError(t, s.Unregister(fid))
	assert.ErrorIs(t, s.Unregister(fid), ErrUnknownFile)

	resp, _ := httpGet(t, url)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// The source lived outside the server cache dir: never deleted.
	_, statErr := os.Stat(path)
	assert.NoError(t, statErr)
}

func TestRegisterCopyOwnsTheCopy(t *testing.T) {
	docs := t.TempDir()
	s := newTestServer(t, serverOpts{roots: []string{docs}})
	_, err := s.Start()
	require.NoError(t, err)

	src := writeTempFile(t, docs, "camera.jpg", "jpegbytes")
	url, err := s.RegisterCopy(src, "camera.jpg", "image/jpeg")
	require.NoError(t, err)

	resp, body := httpGet(t, url)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "jpegbytes", string(body))

	fid := fileIDFromURL(t, url)
	served, ok := s.files.get(fid)
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(served.Path, s.cacheDir))

	require.NoError(t, s.Unregister(fid))
	_, statErr := os.Stat(served.Path)
	assert.True(t, os.IsNotExist(statErr))

	// The original is untouched.
	_, statErr = os.Stat(src)
	assert.NoError(t, statErr)
}

func TestMissingBackingFileDropsMapping(t *testing.T) {
	docs := t.TempDir()
	s := newTestServer(t, serverOpts{roots: []string{docs}})
	_, err := s.Start()
	require.NoError(t, err)

	path := writeTempFile(t, docs, "vanish.txt", "poof")
	url, err := s.Register(path, "vanish.txt", "text/plain")
	require.NoError(t, err)
	require.NoError(t, os.Remove(path))

	resp, _ := httpGet(t, url)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, 0, s.ServedCount())
}

func TestSweepExpiresOldFiles(t *testing.T) {
	docs := t.TempDir()
	clock := platform.NewFakeClock(time.Unix(1_700_000_000, 0))
	rec := &recordingNotifier{}
	s := newTestServer(t, serverOpts{
		roots:    []string{docs},
		clock:    clock,
		notifier: rec,
		fileTTL:  30 * time.Minute,
	})
	_, err := s.Start()
	require.NoError(t, err)

	src := writeTempFile(t, docs, "shot.jpg", "jpeg")
	url, err := s.RegisterCopy(src, "shot.jpg", "image/jpeg")
	require.NoError(t, err)
	served, _ := s.files.get(fileIDFromURL(t, url))

	clock.Advance(29 * time.Minute)
	s.sweepExpired()
	assert.Equal(t, 1, s.ServedCount())

	clock.Advance(2 * time.Minute)
	s.sweepExpired()
	assert.Equal(t, 0, s.ServedCount())
	assert.True(t, rec.seen(notify.EventFileExpired))

	_, statErr := os.Stat(served.Path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestStartWithNoFreePortFails(t *testing.T) {
	start, _ := nextPortRange()

	// Occupy the only port in the range.
	blocker, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", start))
	require.NoError(t, err)
	defer blocker.Close()

	s := New(Config{
		PortRangeStart: start,
		PortRangeEnd:   start,
		CacheDir:       filepath.Join(t.TempDir(), "cache"),
		FileTTL:        time.Minute,
		SweepInterval:  time.Minute,
		ConnTimeout:    time.Second,
		MaxConnections: 1,
	}, Deps{Logger: logging.NewNop()})

	_, err = s.Start()
	assert.ErrorIs(t, err, ErrBindFailed)
	assert.False(t, s.Running())

	// A failed start is not fatal: freeing the port lets a retry succeed.
	blocker.Close()
	_, err = s.Start()
	assert.NoError(t, err)
	s.Stop()
}

func TestRegisterBeforeStart(t *testing.T) {
	s := newTestServer(t, serverOpts{})
	_, err := s.Register("/anywhere", "x", "")
	assert.ErrorIs(t, err, ErrNotRunning)
	_, err = s.RegisterCopy("/anywhere", "x", "")
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestCORSReflectsPageOrigin(t *testing.T) {
	docs := t.TempDir()
	s := newTestServer(t, serverOpts{roots: []string{docs}})
	s.SetPageOrigin("https://app.example.com")
	info, err := s.Start()
	require.NoError(t, err)

	client := &http.Client{Timeout: 5 * time.Second}

	req, _ := http.NewRequest(http.MethodGet, info.BaseURL+"/status", nil)
	req.Header.Set("Origin", "https://app.example.com")
	resp, err := client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "https://app.example.com", resp.Header.Get("Access-Control-Allow-Origin"))

	req, _ = http.NewRequest(http.MethodGet, info.BaseURL+"/status", nil)
	req.Header.Set("Origin", "https://evil.example.net")
	resp, err = client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}

func fileIDFromURL(t *testing.T, url string) id.FileID {
	t.Helper()
	i := strings.LastIndex(url, "/file-")
	require.Positive(t, i)
	return id.FileID(url[i+len("/file-"):])
}
