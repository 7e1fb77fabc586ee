// Package api exposes the merge pipeline over HTTP: the merge entrypoint,
// voice and catalog listings, purge, and liveness.
package api

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/mixdown-service/internal/core"
	"github.com/gofiber/fiber/v2"
)

// Route paths.
const (
	routeMergeAudio = "/mergeAudio"
	routeVoices     = "/voices"
	routeAudioList  = "/audio/list"
	routePurge      = "/purge"
	routeHealthz    = "/healthz"
)

// Server limits.
const (
	bodyLimitBytes     = 64 * 1024 * 1024
	healthCheckTimeout = 5 * time.Second
)

// Log formats.
const (
	logFmtRequest      = "%s %s -> %d"
	logFmtMergeFailed  = "Merge request failed: %v"
	logFmtPurgeStarted = "Purging stored artifacts and resetting catalog"
)

// ScriptRunner materializes a script into ordered segments.
type ScriptRunner interface {
	Run(ctx context.Context, items []core.ScriptItem) ([]core.Segment, error)
}

// Merger concatenates ordered audio sources into one artifact.
type Merger interface {
	Merge(ctx context.Context, sources []core.AudioSource) (*core.MergedAudio, error)
}

// VoiceLister aggregates the voice tables of every registered provider.
type VoiceLister interface {
	Voices() []core.Voice
}

// CatalogAccess is the slice of the metadata catalog the handlers need.
type CatalogAccess interface {
	Load(ctx context.Context) ([]core.CatalogEntry, error)
	Write(ctx context.Context, entries []core.CatalogEntry) error
	Reset(ctx context.Context) error
}

// errorResponse is the structured failure body of every endpoint.
type errorResponse struct {
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

// Server wires the pipeline components behind the HTTP surface.
type Server struct {
	app     *fiber.App
	runner  ScriptRunner
	merger  Merger
	store   core.ArtifactStore
	catalog CatalogAccess
	voices  VoiceLister
	log     *logger.Logger
}

// NewServer creates the server and registers its routes.
func NewServer(
	runner ScriptRunner,
	merger Merger,
	store core.ArtifactStore,
	catalog CatalogAccess,
	voices VoiceLister,
	log *logger.Logger,
) *Server {
	app := fiber.New(fiber.Config{
		AppName:               "mixdown-service",
		BodyLimit:             bodyLimitBytes,
		DisableStartupMessage: true,
	})

	server := &Server{
		app:     app,
		runner:  runner,
		merger:  merger,
		store:   store,
		catalog: catalog,
		voices:  voices,
		log:     log,
	}

	server.registerRoutes()

	return server
}

// App returns the underlying Fiber application, primarily for testing.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen serves HTTP on the given address until Shutdown.
func (s *Server) Listen(address string) error {
	listenErr := s.app.Listen(address)
	if listenErr != nil {
		return fmt.Errorf("http server failed: %w", listenErr)
	}

	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error {
	shutdownErr := s.app.Shutdown()
	if shutdownErr != nil {
		return fmt.Errorf("http server shutdown failed: %w", shutdownErr)
	}

	return nil
}

func (s *Server) registerRoutes() {
	s.app.Use(s.logRequests)

	s.app.Post(routeMergeAudio, s.handleMergeAudio)
	s.app.Get(routeVoices, s.handleVoices)
	s.app.Get(routeAudioList, s.handleAudioList)
	s.app.Post(routePurge, s.handlePurge)
	s.app.Get(routeHealthz, s.handleHealthz)
}

func (s *Server) logRequests(c *fiber.Ctx) error {
	handlerErr := c.Next()

	s.log.Info(logFmtRequest, c.Method(), c.Path(), c.Response().StatusCode())

	return handlerErr
}

func (s *Server) handleVoices(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"voices": s.voices.Voices()})
}

func (s *Server) handleAudioList(c *fiber.Ctx) error {
	entries, loadErr := s.catalog.Load(c.Context())
	if loadErr != nil {
		return s.respondError(c, loadErr)
	}

	return c.JSON(fiber.Map{"entries": entries})
}

func (s *Server) handlePurge(c *fiber.Ctx) error {
	s.log.Info(logFmtPurgeStarted)

	purgeErr := s.store.Purge(c.Context())
	if purgeErr != nil {
		return s.respondError(c, purgeErr)
	}

	resetErr := s.catalog.Reset(c.Context())
	if resetErr != nil {
		return s.respondError(c, resetErr)
	}

	return c.JSON(fiber.Map{"purged": true})
}

func (s *Server) handleHealthz(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), healthCheckTimeout)
	defer cancel()

	backend := "ok"

	_, listErr := s.store.List(ctx)
	if listErr != nil {
		backend = listErr.Error()
	}

	return c.JSON(fiber.Map{
		"status":  "ok",
		"backend": backend,
	})
}

// respondError maps the pipeline error taxonomy onto HTTP statuses and a
// structured body.
func (s *Server) respondError(c *fiber.Ctx, handlerErr error) error {
	status := statusForError(handlerErr)

	s.log.Error(logFmtMergeFailed, handlerErr)

	return c.Status(status).JSON(errorResponse{
		Message: messageForError(handlerErr),
		Detail:  handlerErr.Error(),
	})
}

func statusForError(handlerErr error) int {
	switch {
	case errors.Is(handlerErr, core.ErrValidation):
		return fiber.StatusBadRequest
	case errors.Is(handlerErr, core.ErrProviderQuota):
		return fiber.StatusTooManyRequests
	case errors.Is(handlerErr, core.ErrRotationCancelled),
		errors.Is(handlerErr, core.ErrMetadataConflict):
		return fiber.StatusConflict
	case errors.Is(handlerErr, core.ErrMergeExhausted):
		return fiber.StatusUnprocessableEntity
	case errors.Is(handlerErr, core.ErrProviderAuth),
		errors.Is(handlerErr, core.ErrProviderTransport),
		errors.Is(handlerErr, core.ErrStorage):
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}

func messageForError(handlerErr error) string {
	switch {
	case errors.Is(handlerErr, core.ErrValidation):
		return "invalid request"
	case errors.Is(handlerErr, core.ErrRotationCancelled):
		return "operation cancelled"
	case errors.Is(handlerErr, core.ErrMergeExhausted):
		return "no usable audio sources"
	case errors.Is(handlerErr, core.ErrStorage):
		return "storage backend failed"
	default:
		return "merge pipeline failed"
	}
}
