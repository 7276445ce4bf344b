// Package server provides the Echo web server for browsing analyzed tracks
// and running the tempo pipeline over HTTP.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"github.com/nzoschke/tempolab/pkg/analysis"
	"github.com/nzoschke/tempolab/pkg/dsp"
	"github.com/nzoschke/tempolab/pkg/onset"
)

// Track represents a track in the music library.
type Track struct {
	Name     string `json:"name"`
	Path     string `json:"path"`
	HasJSON  bool   `json:"has_json"`
	JSONPath string `json:"json_path,omitempty"`
}

// Options configures the server.
type Options struct {
	// MusicDir is the library root served under /api/music.
	// Default: music
	MusicDir string

	// StaticDir holds index.html and the frontend assets. Empty disables them.
	StaticDir string

	// CacheSize is the number of on-demand track analyses kept in memory.
	// Default: 64
	CacheSize int

	// RateLimit and Burst bound analysis requests per client, in requests
	// per second.
	// Default: 2 and 4
	RateLimit float64
	Burst     int

	// BodyLimit caps POSTed envelopes.
	// Default: 8M
	BodyLimit string
}

// DefaultOptions returns the settings used by the serve command.
func DefaultOptions() Options {
	return Options{
		MusicDir:  "music",
		StaticDir: "src",
		CacheSize: 64,
		RateLimit: 2,
		Burst:     4,
		BodyLimit: "8M",
	}
}

type cacheKey struct {
	path    string
	modTime time.Time
}

// Server serves the music library and analysis endpoints.
type Server struct {
	echo     *echo.Echo
	analyzer *analysis.Analyzer
	opts     Options
	cache    *lru.Cache[cacheKey, *analysis.TrackAnalysis]
	log      *slog.Logger
}

// New creates a Server. A nil logger uses slog.Default().
func New(a *analysis.Analyzer, opts Options, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.BodyLimit == "" {
		opts.BodyLimit = DefaultOptions().BodyLimit
	}
	cache, err := lru.New[cacheKey, *analysis.TrackAnalysis](max(opts.CacheSize, 1))
	if err != nil {
		return nil, fmt.Errorf("analysis cache: %w", err)
	}

	s := &Server{
		echo:     echo.New(),
		analyzer: a,
		opts:     opts,
		cache:    cache,
		log:      logger,
	}
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	e := s.echo
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			level := slog.LevelInfo
			if v.Error != nil {
				level = slog.LevelWarn
			}
			s.log.LogAttrs(c.Request().Context(), level, "request",
				slog.String("id", v.RequestID),
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
			)
			return nil
		},
	}))
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	// Routes
	if s.opts.StaticDir != "" {
		e.GET("/", s.serveIndex)
		e.Static("/src", s.opts.StaticDir)
	}
	e.GET("/api/music", s.listMusic)
	e.GET("/api/music/*", s.serveMusic)

	limited := e.Group("/api",
		middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
			Store: middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
				Rate:      s.rateLimit(),
				Burst:     s.opts.Burst,
				ExpiresIn: 3 * time.Minute,
			}),
		}),
	)
	limited.GET("/analysis/*", s.analyzeTrack)
	limited.POST("/analyze", s.analyzeEnvelope, middleware.BodyLimit(s.opts.BodyLimit))
}

// rateLimit treats a non-positive RateLimit as unlimited.
func (s *Server) rateLimit() rate.Limit {
	if s.opts.RateLimit <= 0 {
		return rate.Inf
	}
	return rate.Limit(s.opts.RateLimit)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// Start listens on addr until the server fails.
func (s *Server) Start(addr string) error {
	s.log.Info("listening", "addr", addr, "music", s.opts.MusicDir)
	return s.echo.Start(addr)
}

// Run starts a server on addr.
func Run(addr string, a *analysis.Analyzer, opts Options, logger *slog.Logger) error {
	s, err := New(a, opts, logger)
	if err != nil {
		return err
	}
	return s.Start(addr)
}

// serveIndex serves the main index.html page.
func (s *Server) serveIndex(c echo.Context) error {
	return c.File(filepath.Join(s.opts.StaticDir, "index.html"))
}

// listMusic returns a list of all tracks in the music directory.
func (s *Server) listMusic(c echo.Context) error {
	tracks := []Track{}
	root := s.opts.MusicDir

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		ext := strings.ToLower(filepath.Ext(path))
		if !isAudioFile(ext) {
			return nil
		}

		// Convert path to URL path (relative to the music dir)
		relPath, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		jsonPath := analysis.SidecarPath(path)

		track := Track{
			Name: strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
			Path: filepath.ToSlash(relPath),
		}

		// Check if JSON sidecar exists
		if _, err := os.Stat(jsonPath); err == nil {
			track.HasJSON = true
			track.JSONPath = filepath.ToSlash(analysis.SidecarPath(relPath))
		}

		tracks = append(tracks, track)
		return nil
	})

	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusOK, tracks)
}

// libraryPath resolves the wildcard path param inside the music directory.
func (s *Server) libraryPath(c echo.Context) (string, os.FileInfo, error) {
	decodedPath, err := url.PathUnescape(c.Param("*"))
	if err != nil {
		return "", nil, echo.NewHTTPError(http.StatusBadRequest, "invalid path encoding")
	}

	// Security: prevent directory traversal
	if strings.Contains(decodedPath, "..") {
		return "", nil, echo.NewHTTPError(http.StatusForbidden, "invalid path")
	}
	fullPath := filepath.Join(s.opts.MusicDir, decodedPath)

	info, err := os.Stat(fullPath)
	if err != nil {
		return "", nil, echo.NewHTTPError(http.StatusNotFound, "file not found")
	}
	if info.IsDir() {
		return "", nil, echo.NewHTTPError(http.StatusForbidden, "cannot serve directory")
	}
	return fullPath, info, nil
}

// serveMusic serves audio files and JSON analysis files from the music directory.
func (s *Server) serveMusic(c echo.Context) error {
	fullPath, _, err := s.libraryPath(c)
	if err != nil {
		return err
	}

	// Only serve allowed file types
	ext := strings.ToLower(filepath.Ext(fullPath))
	if isAudioFile(ext) {
		return c.File(fullPath)
	}
	if ext == ".json" {
		// Read and parse JSON to validate it
		data, err := os.ReadFile(fullPath)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		var doc map[string]any
		if err := json.Unmarshal(data, &doc); err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, "invalid JSON")
		}
		return c.JSON(http.StatusOK, doc)
	}
	return echo.NewHTTPError(http.StatusForbidden, "file type not allowed")
}

// analyzeTrack analyzes a library track on demand. Results are cached until
// the file changes.
func (s *Server) analyzeTrack(c echo.Context) error {
	fullPath, info, err := s.libraryPath(c)
	if err != nil {
		return err
	}
	if !isAudioFile(strings.ToLower(filepath.Ext(fullPath))) {
		return echo.NewHTTPError(http.StatusForbidden, "file type not allowed")
	}

	key := cacheKey{path: fullPath, modTime: info.ModTime()}
	if ta, ok := s.cache.Get(key); ok {
		return c.JSON(http.StatusOK, ta)
	}

	ta, err := s.analyzer.AnalyzeFile(fullPath)
	if err != nil {
		return analysisError(err)
	}
	s.cache.Add(key, ta)
	return c.JSON(http.StatusOK, ta)
}

// analyzeEnvelope runs the pipeline over a posted onset envelope.
func (s *Server) analyzeEnvelope(c echo.Context) error {
	var env onset.Envelope
	if err := c.Bind(&env); err != nil {
		return err
	}

	res, err := s.analyzer.Analyze(env)
	if err != nil {
		return analysisError(err)
	}
	return c.JSON(http.StatusOK, res)
}

// analysisError maps pipeline errors to HTTP status codes.
func analysisError(err error) error {
	switch {
	case errors.Is(err, analysis.ErrInvalidEnvelope):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, dsp.ErrInputTooShort), errors.Is(err, analysis.ErrAudioTooShort):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, analysis.ErrUnsupportedFormat):
		return echo.NewHTTPError(http.StatusUnsupportedMediaType, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error()).SetInternal(err)
	}
}

// isAudioFile returns true if the extension is a supported audio format.
func isAudioFile(ext string) bool {
	switch ext {
	case ".mp3", ".wav":
		return true
	default:
		return false
	}
}
