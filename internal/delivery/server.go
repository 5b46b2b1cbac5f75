package delivery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"
	"golang.org/x/net/netutil"

	"github.com/GriffinCanCode/MobileShell/gateway/internal/infrastructure/logging"
	"github.com/GriffinCanCode/MobileShell/gateway/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/MobileShell/gateway/internal/platform"
	"github.com/GriffinCanCode/MobileShell/gateway/internal/shared/id"
	"github.com/GriffinCanCode/MobileShell/gateway/internal/shared/notify"
)

var (
	// ErrBindFailed reports that every port in the configured range was
	// busy. The caller falls back to the messaging channel for small
	// payloads; a later Start may succeed.
	ErrBindFailed = errors.New("no free port in configured range")

	// ErrNotRunning reports an operation that needs a live session.
	ErrNotRunning = errors.New("delivery server not running")

	// ErrUnknownFile reports an unregistered file ID.
	ErrUnknownFile = errors.New("file not registered")
)

// Config holds delivery server construction values.
type Config struct {
	PortRangeStart int
	PortRangeEnd   int
	CacheDir       string
	AllowedRoots   []string
	FileTTL        time.Duration
	SweepInterval  time.Duration
	ConnTimeout    time.Duration
	MaxConnections int
}

// Deps carries the server's collaborators. Logger is required; the rest
// default when zero.
type Deps struct {
	Logger   *logging.Logger
	Platform platform.Platform
	Metrics  *monitoring.Metrics
	Notifier notify.Notifier
}

// Info describes the active session.
type Info struct {
	SessionID id.SessionID
	Port      int
	BaseURL   string
}

// Server is the ephemeral loopback HTTP server that moves large local
// payloads into the page's addressable space. Every (re)start mints a new
// unguessable session; URLs from earlier sessions stop resolving.
type Server struct {
	cfg      Config
	logger   *logging.Logger
	clock    platform.Clock
	entropy  platform.Entropy
	metrics  *monitoring.Metrics
	notifier notify.Notifier
	guard    *pathGuard
	cacheDir string

	pageOrigin atomic.Value // string

	mu          sync.Mutex
	running     bool
	info        Info
	httpSrv     *http.Server
	files       *fileRegistry
	stopSweeper context.CancelFunc
}

// New creates a delivery server. The cache directory is created eagerly
// so it can join the path allow-list.
func New(cfg Config, deps Deps) *Server {
	p := deps.Platform
	if p.Clock == nil || p.Entropy == nil {
		p = platform.Real()
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = notify.Discard
	}

	cacheDir := cfg.CacheDir
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		deps.Logger.Warn("Failed to create delivery cache dir", zap.Error(err))
	}
	if resolved, err := filepath.EvalSymlinks(cacheDir); err == nil {
		cacheDir = resolved
	}

	roots := append([]string{cacheDir}, cfg.AllowedRoots...)
	return &Server{
		cfg:      cfg,
		logger:   deps.Logger,
		clock:    p.Clock,
		entropy:  p.Entropy,
		metrics:  deps.Metrics,
		notifier: notifier,
		guard:    newPathGuard(roots...),
		cacheDir: cacheDir,
		files:    newFileRegistry(),
	}
}

// SetPageOrigin records the page's scheme+host+port for CORS. Takes
// effect immediately; when never set, responses fall back to "*".
func (s *Server) SetPageOrigin(origin string) {
	s.pageOrigin.Store(origin)
}

func (s *Server) currentPageOrigin() string {
	if v := s.pageOrigin.Load(); v != nil {
		return v.(string)
	}
	return ""
}

// Start binds the loopback listener and begins serving. Idempotent: a
// running server returns its current session info.
func (s *Server) Start() (Info, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return s.info, nil
	}

	ln, port, err := s.bindLoopback()
	if err != nil {
		s.logger.Warn("Delivery server bind failed", zap.Error(err))
		return Info{}, err
	}

	sid, err := id.NewSessionID(s.entropy)
	if err != nil {
		ln.Close()
		return Info{}, fmt.Errorf("failed to mint session: %w", err)
	}

	limited := netutil.LimitListener(ln, s.cfg.MaxConnections)
	srv := &http.Server{
		Handler:      s.buildRouter(sid),
		ReadTimeout:  s.cfg.ConnTimeout,
		WriteTimeout: s.cfg.ConnTimeout,
		IdleTimeout:  s.cfg.ConnTimeout,
	}

	go func() {
		if err := srv.Serve(limited); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Warn("Delivery server exited", zap.Error(err))
		}
	}()

	sweepCtx, cancel := context.WithCancel(context.Background())
	go s.sweepLoop(sweepCtx)

	s.httpSrv = srv
	s.stopSweeper = cancel
	s.running = true
	s.info = Info{
		SessionID: sid,
		Port:      port,
		BaseURL:   fmt.Sprintf("http://127.0.0.1:%d/framework-%s", port, sid),
	}

	s.logger.Info("Delivery server started",
		zap.Int("port", port),
		zap.String("session", sid.String()),
	)
	s.notifier.Notify(notify.EventDeliveryStarted, map[string]any{
		"port":       port,
		"session_id": sid.String(),
	})
	return s.info, nil
}

// bindLoopback walks the configured range and keeps the first listener
// that binds. Binding the real listener directly (instead of probing with
// a throwaway socket and re-binding) closes the race where another
// process grabs the port between probe and use.
func (s *Server) bindLoopback() (net.Listener, int, error) {
	for port := s.cfg.PortRangeStart; port <= s.cfg.PortRangeEnd; port++ {
		ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
		if err == nil {
			return ln, port, nil
		}
	}
	return nil, 0, ErrBindFailed
}

// Stop cancels every live connection immediately, clears registrations,
// and invalidates the session. This is an ephemeral local service; there
// is nothing worth draining gracefully.
func (s *Server) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	s.stopSweeper()
	if err := s.httpSrv.Close(); err != nil {
		s.logger.Debug("Delivery server close", zap.Error(err))
	}

	for _, f := range s.files.drain() {
		s.removeBacking(f)
	}
	s.updateServedGauge()

	old := s.info
	s.running = false
	s.httpSrv = nil
	s.info = Info{}

	s.logger.Info("Delivery server stopped", zap.String("session", old.SessionID.String()))
	s.notifier.Notify(notify.EventDeliveryStopped, map[string]any{
		"session_id": old.SessionID.String(),
	})
}

// Register exposes a local file through the current session and returns
// its one-time URL.
func (s *Server) Register(path, displayName, mimeType string) (string, error) {
	s.mu.Lock()
	info, running := s.info, s.running
	s.mu.Unlock()
	if !running {
		return "", ErrNotRunning
	}

	resolved, err := s.guard.validate(path)
	if err != nil {
		s.logger.Warn("Rejected registration path", zap.String("path", path))
		return "", err
	}

	if mimeType == "" {
		if mt, err := mimetype.DetectFile(resolved); err == nil {
			mimeType = mt.String()
		} else {
			mimeType = "application/octet-stream"
		}
	}
	if displayName == "" {
		displayName = filepath.Base(resolved)
	}

	f := &ServedFile{
		ID:          id.NewFileID(),
		Path:        resolved,
		DisplayName: displayName,
		MimeType:    mimeType,
		CreatedAt:   s.clock.Now(),
	}
	s.files.add(f)
	s.updateServedGauge()

	s.logger.Debug("Registered file", zap.String("file_id", f.ID.String()), zap.String("path", resolved))
	return fmt.Sprintf("%s/file-%s", info.BaseURL, f.ID), nil
}

// RegisterCopy copies the source into the server's own cache directory
// and registers the copy. The copy is owned by the server and deleted on
// unregister, expiry, or stop.
func (s *Server) RegisterCopy(srcPath, displayName, mimeType string) (string, error) {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	if !running {
		return "", ErrNotRunning
	}

	resolved, err := s.guard.validate(srcPath)
	if err != nil {
		return "", err
	}

	src, err := os.Open(resolved)
	if err != nil {
		return "", fmt.Errorf("failed to open source file: %w", err)
	}
	defer src.Close()

	dstPath := filepath.Join(s.cacheDir, fmt.Sprintf("%s-%s", id.NewFileID(), filepath.Base(resolved)))
	dst, err := os.OpenFile(dstPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("failed to create delivery copy: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(dstPath)
		return "", fmt.Errorf("failed to copy file: %w", err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(dstPath)
		return "", fmt.Errorf("failed to finish delivery copy: %w", err)
	}

	if displayName == "" {
		displayName = filepath.Base(resolved)
	}
	return s.Register(dstPath, displayName, mimeType)
}

// Unregister drops a registration. The backing file is deleted only when
// it lives in the server's own cache directory.
func (s *Server) Unregister(fid id.FileID) error {
	f, ok := s.files.remove(fid)
	if !ok {
		return ErrUnknownFile
	}
	s.removeBacking(f)
	s.updateServedGauge()
	return nil
}

// ServedCount reports the number of live registrations.
func (s *Server) ServedCount() int {
	return s.files.count()
}

// Running reports whether a session is active.
func (s *Server) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Server) sweepLoop(ctx context.Context) {
	interval := s.cfg.SweepInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepExpired()
		}
	}
}

// sweepExpired removes registrations older than the TTL.
func (s *Server) sweepExpired() {
	cutoff := s.clock.Now().Add(-s.cfg.FileTTL)
	for _, f := range s.files.expire(cutoff) {
		s.removeBacking(f)
		s.logger.Debug("Expired served file", zap.String("file_id", f.ID.String()))
		s.notifier.Notify(notify.EventFileExpired, map[string]any{
			"file_id":      f.ID.String(),
			"display_name": f.DisplayName,
		})
	}
	s.updateServedGauge()
}

// removeBacking deletes a registration's file when the server owns it.
func (s *Server) removeBacking(f *ServedFile) {
	if !within(s.cacheDir, f.Path) {
		return
	}
	if err := os.Remove(f.Path); err != nil && !os.IsNotExist(err) {
		s.logger.Debug("Failed to remove delivery copy", zap.String("path", f.Path), zap.Error(err))
	}
}

func (s *Server) updateServedGauge() {
	if s.metrics != nil {
		s.metrics.ServedFiles.Set(float64(s.files.count()))
	}
}
