// Package httpapi implements the HTTP Surface (spec.md §4.6): request
// validation, URL sanitization, template resolution, job routing, and
// the SPA fallback, per the endpoint table in spec.md §6.
//
// Grounded on the other_examples jaki95-dj-set-downloader
// internal/server/handlers.go: a gin handler that validates the
// request body, kicks the real work into a background goroutine, and
// returns a {message, jobId}-shaped 202 immediately — structurally the
// same shape spec.md wants for POST /api/download. The middleware
// layer (request id, API version header) has no teacher analogue since
// the teacher is a desktop app with no HTTP surface at all; it follows
// the request-id-then-structured-log pattern ytfetch/internal/logger
// already establishes for the Orchestrator.
package httpapi

import (
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	apperr "ytfetch/internal/errors"
	"ytfetch/internal/logger"
	"ytfetch/internal/metadata"
	"ytfetch/internal/orchestrator"
	"ytfetch/internal/paths"
	"ytfetch/internal/progress"
	"ytfetch/internal/sanitizeurl"
	"ytfetch/internal/settings"
	"ytfetch/internal/sizeest"
	"ytfetch/internal/template"
)

// APIVersion is written as X-API-Version on every response, per
// spec.md §4.6.
const APIVersion = "1"

// Server wires the HTTP Surface to its collaborators: the Job
// Orchestrator (which owns the Progress Accountant), the Settings
// Store, and the pure sanitizeurl/sizeest/template/metadata functions.
type Server struct {
	orch      *orchestrator.Orchestrator
	staticDir string
}

// New returns a Server backed by orch. staticDir is the directory the
// SPA fallback serves files from; an empty staticDir (or one with no
// index.html) falls back to a placeholder page.
func New(orch *orchestrator.Orchestrator, staticDir string) *Server {
	return &Server{orch: orch, staticDir: staticDir}
}

// Router builds the gin engine with every route in spec.md §6 wired,
// plus the request-id and X-API-Version middleware applied to all of
// them.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestIDMiddleware())
	r.Use(apiVersionMiddleware())

	r.NoRoute(s.serveSPA)

	r.GET("/api/health", s.health)
	r.GET("/api/naming-templates", s.getNamingTemplates)
	r.PUT("/api/naming-templates", s.putNamingTemplates)
	r.POST("/api/metadata", s.postMetadata)
	r.POST("/api/filesize", s.postFilesize)
	r.POST("/api/download", s.postDownload)
	r.GET("/api/downloads/active", s.getActiveDownloads)
	r.GET("/api/download/progress/:jobId", s.getProgress)
	r.POST("/api/download/pause/:jobId", s.pauseDownload)
	r.POST("/api/download/resume/:jobId", s.resumeDownload)
	r.POST("/api/download/cancel/:jobId", s.cancelDownload)

	return r
}

// requestIDMiddleware stamps every request with a trace id, generated
// once and carried through both the response header and the request's
// log lines.
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("requestID", id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

func apiVersionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-API-Version", APIVersion)
		c.Next()
	}
}

func requestID(c *gin.Context) string {
	if v, ok := c.Get("requestID"); ok {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

func errorResponse(c *gin.Context, status int, err error) {
	logger.Log.Warn().
		Str("requestID", requestID(c)).
		Str("path", c.Request.URL.Path).
		Err(err).
		Msg("request failed")
	c.JSON(status, gin.H{"error": err.Error()})
}

// health backs GET /api/health. It additionally reports the resolved
// extractor binary and whether it was found on $PATH — an operational
// signal in the spirit of spec.md §6's "version surfaced via
// --version" note, without actually invoking the extractor.
func (s *Server) health(c *gin.Context) {
	bin := paths.ExtractorBinary()
	resolved, found := paths.LookPath(bin)

	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"version":   APIVersion,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"extractor": gin.H{
			"binary":   bin,
			"resolved": resolved,
			"found":    found,
		},
	})
}

// getNamingTemplates backs GET /api/naming-templates.
func (s *Server) getNamingTemplates(c *gin.Context) {
	nt, err := settings.Load()
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"namingTemplates": nt})
}

// putNamingTemplatesRequest is the PUT /api/naming-templates body.
type putNamingTemplatesRequest struct {
	NamingTemplates *settings.NamingTemplates `json:"namingTemplates" binding:"required"`
}

// putNamingTemplates backs PUT /api/naming-templates. Each of the four
// templates is validated against the tag grammar for its (contentType,
// mode) pair before anything is persisted.
func (s *Server) putNamingTemplates(c *gin.Context) {
	var req putNamingTemplatesRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.NamingTemplates == nil {
		errorResponse(c, http.StatusBadRequest, apperr.NewWithMessage("httpapi.putNamingTemplates", apperr.ErrInvalidTemplate, "namingTemplates is required"))
		return
	}
	nt := *req.NamingTemplates

	checks := []struct {
		tmpl string
		ct   template.ContentType
		mode template.Mode
	}{
		{nt.Single.Video, template.Single, template.Video},
		{nt.Single.Audio, template.Single, template.Audio},
		{nt.Playlist.Video, template.Playlist, template.Video},
		{nt.Playlist.Audio, template.Playlist, template.Audio},
	}
	for _, chk := range checks {
		if err := template.Validate(chk.tmpl, chk.ct, chk.mode); err != nil {
			errorResponse(c, http.StatusBadRequest, err)
			return
		}
	}

	if err := settings.Save(nt); err != nil {
		errorResponse(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "namingTemplates": nt})
}

// postMetadataRequest is the POST /api/metadata body.
type postMetadataRequest struct {
	URL string `json:"url" binding:"required"`
}

// postMetadata backs POST /api/metadata.
func (s *Server) postMetadata(c *gin.Context) {
	var req postMetadataRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, apperr.NewWithMessage("httpapi.postMetadata", apperr.ErrInvalidURL, "url is required"))
		return
	}

	clean, err := sanitizeurl.Sanitize(req.URL)
	if err != nil {
		errorResponse(c, http.StatusBadRequest, err)
		return
	}

	result, err := metadata.Fetch(c.Request.Context(), clean)
	if err != nil {
		errorResponse(c, http.StatusBadRequest, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// postFilesizeRequest is the POST /api/filesize body.
type postFilesizeRequest struct {
	URL           string `json:"url" binding:"required"`
	Mode          string `json:"mode" binding:"required"`
	Quality       string `json:"quality"`
	Format        string `json:"format"`
	PlaylistItems string `json:"playlistItems"`
}

// postFilesize backs POST /api/filesize.
func (s *Server) postFilesize(c *gin.Context) {
	var req postFilesizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, apperr.NewWithMessage("httpapi.postFilesize", apperr.ErrInvalidURL, "url and mode are required"))
		return
	}

	clean, err := sanitizeurl.Sanitize(req.URL)
	if err != nil {
		errorResponse(c, http.StatusBadRequest, err)
		return
	}

	mode := progress.ModeVideo
	if req.Mode == string(progress.ModeAudio) {
		mode = progress.ModeAudio
	}

	size, err := sizeest.Estimate(c.Request.Context(), sizeest.Options{
		URL:           clean,
		Mode:          mode,
		Quality:       req.Quality,
		Format:        req.Format,
		PlaylistItems: req.PlaylistItems,
	})
	if err != nil {
		errorResponse(c, http.StatusBadRequest, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"fileSize": size})
}

// postDownloadRequest is the POST /api/download body, per spec.md §6's
// field list.
type postDownloadRequest struct {
	URL                    string `json:"url" binding:"required"`
	VideoID                string `json:"videoId"`
	JobID                  string `json:"jobId" binding:"required"`
	OutputFolder           string `json:"outputFolder" binding:"required"`
	Mode                   string `json:"mode" binding:"required"`
	Quality                string `json:"quality"`
	Format                 string `json:"format"`
	Title                  string `json:"title"`
	Channel                string `json:"channel"`
	Index                  int    `json:"index"`
	ContentType            string `json:"contentType"`
	CreatePerChannelFolder bool   `json:"createPerChannelFolder"`
	DownloadSubtitles      bool   `json:"downloadSubtitles"`
	SubtitleLanguage       string `json:"subtitleLanguage"`
}

// postDownload backs POST /api/download. It performs spec.md §4.5 steps
// 1-2 synchronously (sanitize, resolve filename, size estimate,
// register) via Orchestrator.Submit, then returns the queued response
// immediately; steps 3-5 continue in the background.
func (s *Server) postDownload(c *gin.Context) {
	var req postDownloadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, apperr.NewWithMessage("httpapi.postDownload", apperr.ErrInvalidTemplate, "missing required download fields"))
		return
	}

	clean, err := sanitizeurl.Sanitize(req.URL)
	if err != nil {
		errorResponse(c, http.StatusBadRequest, err)
		return
	}

	mode := progress.ModeVideo
	tmplMode := template.Video
	if req.Mode == string(progress.ModeAudio) {
		mode = progress.ModeAudio
		tmplMode = template.Audio
	}

	ct := template.Single
	if req.ContentType == string(template.Playlist) {
		ct = template.Playlist
	}

	nt, err := settings.Load()
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, err)
		return
	}
	tmpl := templateFor(nt, ct, tmplMode)
	if err := template.Validate(tmpl, ct, tmplMode); err != nil {
		errorResponse(c, http.StatusBadRequest, err)
		return
	}

	resolvedName := template.Resolve(tmpl, template.Metadata{
		Title:         req.Title,
		Channel:       req.Channel,
		Format:        formatFor(mode, req.Format, req.Quality),
		Quality:       req.Quality,
		PlaylistIndex: req.Index,
	}, tmplMode)

	// Format is left out so the estimate stays unprojected:
	// progress.Registry applies the audio projection on read.
	estimated, err := sizeest.Estimate(c.Request.Context(), sizeest.Options{
		URL:     clean,
		Mode:    mode,
		Quality: req.Quality,
	})
	if err != nil {
		logger.Log.Warn().Str("requestID", requestID(c)).Err(err).Msg("size estimate failed; continuing with 0")
		estimated = 0
	}

	err = s.orch.Submit(orchestrator.JobOptions{
		URL:                    clean,
		VideoID:                req.VideoID,
		JobID:                  req.JobID,
		OutputFolder:           req.OutputFolder,
		Mode:                   mode,
		Quality:                req.Quality,
		Format:                 req.Format,
		EstimatedBytes:         estimated,
		ResolvedFilename:       resolvedName,
		Channel:                req.Channel,
		CreatePerChannelFolder: req.CreatePerChannelFolder,
		DownloadSubtitles:      req.DownloadSubtitles,
		SubtitleLanguage:       req.SubtitleLanguage,
	})
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "jobId": req.JobID, "status": "queued"})
}

func templateFor(nt settings.NamingTemplates, ct template.ContentType, mode template.Mode) string {
	group := nt.Single
	if ct == template.Playlist {
		group = nt.Playlist
	}
	if mode == template.Audio {
		return group.Audio
	}
	return group.Video
}

// formatFor resolves the <format> tag's value: the audio extension in
// audio mode, or the quality string in video mode (there is no
// separate video container tag in spec.md §4.1's vocabulary).
func formatFor(mode progress.Mode, format, quality string) string {
	if mode == progress.ModeAudio {
		return format
	}
	return quality
}

// getActiveDownloads backs GET /api/downloads/active.
func (s *Server) getActiveDownloads(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"downloads": s.orch.Registry().Snapshot()})
}

// getProgress backs GET /api/download/progress/:jobId.
func (s *Server) getProgress(c *gin.Context) {
	jobID := c.Param("jobId")
	p, ok := s.orch.Registry().Get(jobID)
	if !ok {
		errorResponse(c, http.StatusNotFound, apperr.New("httpapi.getProgress", apperr.ErrNotFound))
		return
	}
	c.JSON(http.StatusOK, p)
}

// pauseDownload backs POST /api/download/pause/:jobId.
func (s *Server) pauseDownload(c *gin.Context) {
	s.controlAction(c, s.orch.Pause)
}

// resumeDownload backs POST /api/download/resume/:jobId.
func (s *Server) resumeDownload(c *gin.Context) {
	s.controlAction(c, s.orch.Resume)
}

// cancelDownload backs POST /api/download/cancel/:jobId.
func (s *Server) cancelDownload(c *gin.Context) {
	s.controlAction(c, s.orch.Cancel)
}

func (s *Server) controlAction(c *gin.Context, action func(jobID string) error) {
	jobID := c.Param("jobId")
	if err := action(jobID); err != nil {
		if apperr.IsNotFound(err) {
			errorResponse(c, http.StatusNotFound, err)
			return
		}
		errorResponse(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// serveSPA implements the `GET *` fallback (spec.md §6). The browser
// UI itself is out of scope (spec.md §1): when staticDir names a built
// frontend, its index.html is served; otherwise a minimal placeholder
// stands in, so the route still exists and still 200s.
func (s *Server) serveSPA(c *gin.Context) {
	if c.Request.Method != http.MethodGet {
		c.Status(http.StatusNotFound)
		return
	}
	if s.staticDir != "" {
		indexPath := filepath.Join(s.staticDir, "index.html")
		if _, err := os.Stat(indexPath); err == nil {
			c.File(indexPath)
			return
		}
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(spaPlaceholder))
}

const spaPlaceholder = `<!doctype html><html><head><title>ytfetch</title></head>` +
	`<body><p>ytfetch is running. The browser UI is not bundled in this build.</p></body></html>`
