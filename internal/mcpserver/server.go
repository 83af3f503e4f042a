// Package mcpserver exposes the studio as Model Context Protocol tools so
// assistants can list voices, speak, synthesise remotely and manage
// recordings.
//
// Tools:
//
//	list_voices        filtered voice catalog and default voice
//	speak              on-device utterance, optionally recorded
//	synthesize_remote  remote synthesis into a new recording
//	list_recordings    recordings, newest first
//	delete_recording   remove a recording by ID
//
// The server is served over the streamable HTTP transport by [Server.Handler].
package mcpserver

import (
	"context"
	"net/http"
	"time"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/voxdeck/internal/observe"
	"github.com/MrWong99/voxdeck/internal/recording"
	"github.com/MrWong99/voxdeck/internal/remote"
	"github.com/MrWong99/voxdeck/internal/speaker"
	"github.com/MrWong99/voxdeck/pkg/voice"
)

// Deps are the components the tools operate on. Remote may be nil, in which
// case synthesize_remote is not registered.
type Deps struct {
	Speaker  *speaker.Speaker
	Voices   *voice.Catalog
	Registry *recording.Registry
	Remote   *remote.Service
}

// Option is a functional option for configuring a Server.
type Option func(*Server)

// WithMetrics records tool calls on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithVersion sets the implementation version reported to clients.
func WithVersion(v string) Option {
	return func(s *Server) {
		s.version = v
	}
}

// WithSpeakTimeout bounds how long a waiting speak call blocks. Default: 2m.
func WithSpeakTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.speakTimeout = d
		}
	}
}

// Server is the MCP tool surface.
type Server struct {
	deps         Deps
	metrics      *observe.Metrics
	version      string
	speakTimeout time.Duration
	mcp          *sdk.Server
}

// New creates the MCP server and registers its tools.
func New(deps Deps, opts ...Option) *Server {
	s := &Server{
		deps:         deps,
		version:      "dev",
		speakTimeout: 2 * time.Minute,
	}
	for _, o := range opts {
		o(s)
	}
	s.mcp = sdk.NewServer(&sdk.Implementation{Name: "voxdeck", Version: s.version}, nil)
	s.registerTools()
	return s
}

// MCP returns the underlying SDK server.
func (s *Server) MCP() *sdk.Server { return s.mcp }

// Handler serves the streamable HTTP transport.
func (s *Server) Handler() http.Handler {
	return sdk.NewStreamableHTTPHandler(func(*http.Request) *sdk.Server { return s.mcp }, nil)
}

func (s *Server) registerTools() {
	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "list_voices",
		Description: "List the on-device voices available for speak, filtered to the supported languages.",
	}, instrument(s, "list_voices", s.listVoices))

	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "speak",
		Description: "Speak text aloud with the on-device engine, optionally recording the microphone while it plays.",
	}, instrument(s, "speak", s.speak))

	if s.deps.Remote != nil {
		sdk.AddTool(s.mcp, &sdk.Tool{
			Name:        "synthesize_remote",
			Description: "Synthesise Thai speech with the remote iApp service and store it as a recording.",
		}, instrument(s, "synthesize_remote", s.synthesizeRemote))
	}

	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "list_recordings",
		Description: "List stored recordings, newest first.",
	}, instrument(s, "list_recordings", s.listRecordings))

	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "delete_recording",
		Description: "Delete a stored recording by ID.",
	}, instrument(s, "delete_recording", s.deleteRecording))
}

// instrument wraps a tool handler with logging and the tool call counter.
func instrument[In, Out any](s *Server, name string, h sdk.ToolHandlerFor[In, Out]) sdk.ToolHandlerFor[In, Out] {
	return func(ctx context.Context, req *sdk.CallToolRequest, in In) (*sdk.CallToolResult, Out, error) {
		start := time.Now()
		res, out, err := h(ctx, req, in)
		status := "ok"
		if err != nil {
			status = "error"
			observe.Logger(ctx).Info("mcp tool failed", "tool", name, "err", err)
		} else {
			observe.Logger(ctx).Debug("mcp tool called", "tool", name, "duration", time.Since(start))
		}
		if s.metrics != nil {
			s.metrics.RecordToolCall(ctx, name, status)
		}
		return res, out, err
	}
}
