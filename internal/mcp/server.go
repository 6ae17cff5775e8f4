// Package mcp exposes forecasting as Model Context Protocol tools over stdio.
package mcp

import (
	"context"
	"fmt"
	"time"

	"flowcast/internal/forecast"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog/log"
)

const (
	serverName    = "flowcast"
	serverVersion = "0.1.0"
)

// Server holds the state for the MCP server.
type Server struct {
	service       *forecast.Service
	source        forecast.ThroughputSource
	settings      forecast.Settings
	enableMermaid bool
}

// NewServer creates a new MCP server backed by the forecasting service.
func NewServer(source forecast.ThroughputSource, settings forecast.Settings, enableMermaid bool) *Server {
	return &Server{
		service:       forecast.NewService(source, settings),
		source:        source,
		settings:      settings,
		enableMermaid: enableMermaid,
	}
}

// SetClock overrides the clock used to anchor forecasts.
func (s *Server) SetClock(now func() time.Time) {
	s.service.SetClock(now)
}

// Build registers the tools on a fresh protocol server.
func (s *Server) Build() (*mcp.Server, error) {
	forecastSchema, err := forecastInputSchema()
	if err != nil {
		return nil, fmt.Errorf("forecast input schema: %w", err)
	}

	server := mcp.NewServer(&mcp.Implementation{Name: serverName, Version: serverVersion}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "forecast",
		InputSchema: forecastSchema,
		Description: "Runs a Monte Carlo forecast from a project's historical weekday throughput. " +
			"The goal is either a backlog size (how many days to finish N items) or a future date " +
			"in YYYY-MM-DD form (how many items get done by then). Returns the 95% confidence interval.",
	}, s.handleForecast)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "throughput",
		Description: "Returns the dense weekday throughput series (items completed per working day) for a project.",
	}, s.handleThroughput)

	return server, nil
}

// Serve runs the protocol loop on stdin/stdout until the client disconnects or ctx is done.
func (s *Server) Serve(ctx context.Context) error {
	server, err := s.Build()
	if err != nil {
		return err
	}
	log.Info().Str("name", serverName).Str("version", serverVersion).Msg("MCP server listening on stdio")
	return server.Run(ctx, &mcp.StdioTransport{})
}
