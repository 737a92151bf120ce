// Package mcp exposes the notes retrieval tools over the Model Context
// Protocol, guarded by the bearer-token gate.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	mcpauth "github.com/modelcontextprotocol/go-sdk/auth"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/neron/internal/auth"
	"github.com/fyrsmithlabs/neron/internal/embeddings"
	"github.com/fyrsmithlabs/neron/internal/logging"
	"github.com/fyrsmithlabs/neron/internal/notes"
	"github.com/fyrsmithlabs/neron/internal/search"
)

const (
	serverName    = "neron"
	serverVersion = "1.0.0"

	toolNotesPerDay = "get_notes_per_day"
	toolAllNotes    = "get_all_notes"
	toolSearch      = "search"
)

// Config holds MCP server construction parameters.
type Config struct {
	Store  notes.Store
	Ranker *search.Ranker
	Creds  *auth.CredentialStore
	// ResourceMetadataURL is advertised in WWW-Authenticate challenges
	// on 401 responses.
	ResourceMetadataURL string
	Logger              *logging.Logger
}

// Server owns the MCP tool surface.
type Server struct {
	mcp     *mcpsdk.Server
	store   notes.Store
	ranker  *search.Ranker
	creds   *auth.CredentialStore
	metaURL string
	logger  *logging.Logger
}

// NewServer creates the MCP server and registers the three tools.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("notes store is required")
	}
	if cfg.Ranker == nil {
		return nil, fmt.Errorf("ranker is required")
	}
	if cfg.Creds == nil {
		return nil, fmt.Errorf("credential store is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewNop()
	}

	s := &Server{
		store:   cfg.Store,
		ranker:  cfg.Ranker,
		creds:   cfg.Creds,
		metaURL: cfg.ResourceMetadataURL,
		logger:  logger.Named("mcp"),
	}

	srv := mcpsdk.NewServer(&mcpsdk.Implementation{
		Name:    serverName,
		Version: serverVersion,
	}, nil)

	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name:        toolNotesPerDay,
		Description: "Get all notes recorded on a given calendar day.",
	}, s.handleNotesPerDay)
	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name:        toolAllNotes,
		Description: "Get every stored note, oldest first.",
	}, s.handleAllNotes)
	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name:        toolSearch,
		Description: "Semantic search over the notes, ranked by similarity to the query.",
	}, s.handleSearch)

	s.mcp = srv
	return s, nil
}

// Handler returns the streamable HTTP handler wrapped in the bearer
// gate. Every request without a valid token gets 401 plus a
// WWW-Authenticate challenge pointing at the resource metadata.
func (s *Server) Handler() http.Handler {
	streamable := mcpsdk.NewStreamableHTTPHandler(func(*http.Request) *mcpsdk.Server {
		return s.mcp
	}, nil)
	return mcpauth.RequireBearerToken(
		s.creds.VerifyToken,
		&mcpauth.RequireBearerTokenOptions{ResourceMetadataURL: s.metaURL},
	)(streamable)
}

type noteOutput struct {
	ID        int64  `json:"id"`
	Timestamp string `json:"timestamp"`
	Text      string `json:"text"`
}

type notesPerDayInput struct {
	Day string `json:"day" jsonschema:"Calendar day in YYYY-MM-DD format"`
}

type notesOutput struct {
	Notes []noteOutput `json:"notes"`
	Count int          `json:"count"`
}

type allNotesInput struct{}

type searchInput struct {
	Text string `json:"text" jsonschema:"Free-text query to search for"`
	TopK *int   `json:"top_k,omitempty" jsonschema:"Maximum number of results (default 5)"`
}

type searchResultOutput struct {
	Note       noteOutput `json:"note"`
	Distance   float64    `json:"distance"`
	Similarity float64    `json:"similarity"`
}

type searchOutput struct {
	Results []searchResultOutput `json:"results"`
	Count   int                  `json:"count"`
}

func (s *Server) handleNotesPerDay(ctx context.Context, _ *mcpsdk.CallToolRequest, input notesPerDayInput) (*mcpsdk.CallToolResult, notesOutput, error) {
	found, err := retryOnce(ctx, func(ctx context.Context) ([]notes.Note, error) {
		return s.store.NotesByDay(ctx, input.Day)
	})
	if err != nil {
		return nil, notesOutput{}, s.toolError(ctx, toolNotesPerDay, err)
	}
	return nil, convertNotes(found), nil
}

func (s *Server) handleAllNotes(ctx context.Context, _ *mcpsdk.CallToolRequest, _ allNotesInput) (*mcpsdk.CallToolResult, notesOutput, error) {
	found, err := retryOnce(ctx, func(ctx context.Context) ([]notes.Note, error) {
		return s.store.AllNotes(ctx)
	})
	if err != nil {
		return nil, notesOutput{}, s.toolError(ctx, toolAllNotes, err)
	}
	return nil, convertNotes(found), nil
}

func (s *Server) handleSearch(ctx context.Context, _ *mcpsdk.CallToolRequest, input searchInput) (*mcpsdk.CallToolResult, searchOutput, error) {
	// An omitted top_k defaults; an explicit zero or negative is an
	// argument error surfaced by the ranker.
	topK := search.DefaultTopK
	if input.TopK != nil {
		topK = *input.TopK
	}

	results, err := retryOnce(ctx, func(ctx context.Context) ([]notes.SearchResult, error) {
		return s.ranker.Rank(ctx, input.Text, topK)
	})
	if err != nil {
		return nil, searchOutput{}, s.toolError(ctx, toolSearch, err)
	}

	out := searchOutput{
		Results: make([]searchResultOutput, len(results)),
		Count:   len(results),
	}
	for i, r := range results {
		out.Results[i] = searchResultOutput{
			Note:       convertNote(r.Note),
			Distance:   r.Distance,
			Similarity: r.Similarity,
		}
	}
	return nil, out, nil
}

// retryOnce retries a read exactly once when a backend is unavailable.
// All tools are idempotent reads, so the retry is safe.
func retryOnce[T any](ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	out, err := fn(ctx)
	if err == nil || !backendUnavailable(err) {
		return out, err
	}
	if ctx.Err() != nil {
		return out, err
	}
	return fn(ctx)
}

func backendUnavailable(err error) bool {
	return errors.Is(err, notes.ErrUnavailable) || errors.Is(err, embeddings.ErrUnavailable)
}

// toolError logs the failure and returns a client-facing error without
// internal detail.
func (s *Server) toolError(ctx context.Context, tool string, err error) error {
	s.logger.Warn(ctx, "tool call failed",
		zap.String("tool", tool),
		zap.Error(err),
	)
	switch {
	case errors.Is(err, notes.ErrInvalidDay):
		return fmt.Errorf("day must be a valid YYYY-MM-DD date")
	case errors.Is(err, search.ErrInvalidQuery):
		return err
	case errors.Is(err, notes.ErrUnavailable):
		return fmt.Errorf("notes store is temporarily unavailable")
	case errors.Is(err, embeddings.ErrUnavailable):
		return fmt.Errorf("embedding provider is temporarily unavailable")
	default:
		return fmt.Errorf("%s failed", tool)
	}
}

func convertNotes(in []notes.Note) notesOutput {
	out := notesOutput{
		Notes: make([]noteOutput, len(in)),
		Count: len(in),
	}
	for i, n := range in {
		out.Notes[i] = convertNote(n)
	}
	return out
}

func convertNote(n notes.Note) noteOutput {
	return noteOutput{
		ID:        n.ID,
		Timestamp: n.Timestamp.Format(time.RFC3339),
		Text:      n.Text,
	}
}
