package delivery

import (
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/GriffinCanCode/MobileShell/gateway/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/MobileShell/gateway/internal/shared/id"
)

// streamChunkBytes is the fixed streaming chunk size; bodies are never
// buffered whole.
const streamChunkBytes = 8 * 1024

// Request-rate ceiling for the loopback listener. Connection count is
// already capped by the listener; this bounds request churn on the
// connections that do get through.
const (
	requestsPerSecond = 50
	requestBurst      = 100
)

// buildRouter assembles the gin engine for one session. The engine is
// rebuilt on every Start, so the session ID is part of the routing
// itself: requests carrying an old session never reach a handler.
func (s *Server) buildRouter(sid id.SessionID) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if s.metrics != nil {
		router.Use(monitoring.Middleware(s.metrics))
	}
	router.Use(globalRateLimit())
	router.Use(cors.New(cors.Config{
		AllowOriginFunc: func(origin string) bool {
			page := s.currentPageOrigin()
			return page == "" || origin == page
		},
		AllowMethods: []string{"GET", "HEAD", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Accept", "Range"},
		MaxAge:       12 * time.Hour,
	}))

	scope := "framework-" + sid.String()
	router.GET("/:scope/:item", func(c *gin.Context) {
		if c.Param("scope") != scope {
			c.AbortWithStatus(http.StatusNotFound)
			return
		}
		item := c.Param("item")
		switch {
		case item == "status":
			s.handleStatus(c)
		case strings.HasPrefix(item, "file-"):
			s.handleFile(c, id.FileID(strings.TrimPrefix(item, "file-")))
		default:
			c.AbortWithStatus(http.StatusNotFound)
		}
	})
	router.NoRoute(func(c *gin.Context) {
		c.AbortWithStatus(http.StatusNotFound)
	})
	return router
}

// globalRateLimit adapts the shared token-bucket pattern to the delivery
// server's single-client reality: one global limiter, no per-IP map.
func globalRateLimit() gin.HandlerFunc {
	limiter := rate.NewLimiter(rate.Limit(requestsPerSecond), requestBurst)
	return func(c *gin.Context) {
		if !limiter.Allow() {
			c.AbortWithStatus(http.StatusTooManyRequests)
			return
		}
		c.Next()
	}
}

// handleStatus reports session diagnostics.
func (s *Server) handleStatus(c *gin.Context) {
	s.mu.Lock()
	info := s.info
	s.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{
		"session_id":   info.SessionID.String(),
		"port":         info.Port,
		"served_files": s.files.count(),
	})
}

// handleFile streams one registered file. A registration whose backing
// file disappeared is dropped on first access.
func (s *Server) handleFile(c *gin.Context, fid id.FileID) {
	f, ok := s.files.get(fid)
	if !ok {
		c.AbortWithStatus(http.StatusNotFound)
		return
	}

	file, err := os.Open(f.Path)
	if err != nil {
		s.logger.Warn("Backing file missing, dropping registration",
			zap.String("file_id", fid.String()), zap.Error(err))
		s.files.remove(fid)
		s.updateServedGauge()
		c.AbortWithStatus(http.StatusNotFound)
		return
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		c.AbortWithStatus(http.StatusNotFound)
		return
	}

	header := c.Writer.Header()
	header.Set("Content-Type", f.MimeType)
	header.Set("Content-Length", strconv.FormatInt(stat.Size(), 10))
	header.Set("Content-Disposition", `inline; filename="`+f.DisplayName+`"`)
	header.Set("Cache-Control", "no-store")
	c.Status(http.StatusOK)

	// Fixed-size chunks with a flush per chunk: flow control back-
	// pressures one slow client without buffering the file or starving
	// other connections.
	buf := make([]byte, streamChunkBytes)
	for {
		n, readErr := file.Read(buf)
		if n > 0 {
			if _, writeErr := c.Writer.Write(buf[:n]); writeErr != nil {
				// Client went away; nothing to answer.
				return
			}
			c.Writer.Flush()
		}
		if readErr != nil {
			return
		}
	}
}
