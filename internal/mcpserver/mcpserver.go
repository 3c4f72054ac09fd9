// Package mcpserver exposes the copyedit service as a Model Context Protocol
// tool so that agents and editors can call it directly.
//
// The server registers a single tool, "copyedit", taking {"text", "mode"}
// and returning the revised text with its located changes as structured
// content. Failures are reported as tool errors carrying the error kind.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/copyedit/internal/observe"
	"github.com/MrWong99/copyedit/internal/pipeline"
	"github.com/MrWong99/copyedit/internal/service"
	"github.com/MrWong99/copyedit/pkg/types"
)

// ToolName is the name the tool is registered under.
const ToolName = "copyedit"

// Copyeditor is the service the tool fronts. [*service.Service] satisfies it.
type Copyeditor interface {
	Copyedit(ctx context.Context, req service.Request) (service.Response, error)
}

// Input is the tool's argument object.
type Input struct {
	Text string `json:"text" jsonschema:"the paragraph to copyedit"`
	Mode string `json:"mode,omitempty" jsonschema:"full runs rules and the language model, rules runs deterministic rules only; default full"`
}

// Output is the tool's structured result.
type Output struct {
	RevisedText string         `json:"revised_text"`
	Changes     []types.Change `json:"changes"`
	Cached      bool           `json:"cached"`
}

// New returns an MCP server with the copyedit tool registered.
func New(svc Copyeditor, version string) *mcp.Server {
	srv := mcp.NewServer(&mcp.Implementation{Name: "copyedit", Version: version}, nil)
	mcp.AddTool(srv, &mcp.Tool{
		Name: ToolName,
		Description: "Copyedit one paragraph: fixes spelling, punctuation, spacing and grammar " +
			"and returns the revised text plus every change with byte offsets into it.",
	}, handler(svc))
	return srv
}

// ServeStdio runs the server on stdin/stdout until ctx is done or the client
// disconnects.
func ServeStdio(ctx context.Context, srv *mcp.Server) error {
	if err := srv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
		return fmt.Errorf("mcpserver: %w", err)
	}
	return nil
}

func handler(svc Copyeditor) mcp.ToolHandlerFor[Input, Output] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, in Input) (*mcp.CallToolResult, Output, error) {
		ctx = observe.WithRequestID(ctx, uuid.NewString())
		mode, err := pipeline.ParseMode(in.Mode)
		if err != nil {
			return nil, Output{}, toolError(err)
		}

		resp, err := svc.Copyedit(ctx, service.Request{Text: in.Text, Mode: mode, Client: "mcp"})
		if err != nil {
			observe.Logger(ctx).Warn("mcp copyedit failed", "code", types.ErrorKind(err), "err", err)
			return nil, Output{}, toolError(err)
		}

		out := Output{RevisedText: resp.RevisedText, Changes: resp.Changes, Cached: resp.Cached}
		if out.Changes == nil {
			out.Changes = []types.Change{}
		}
		text, err := json.Marshal(out)
		if err != nil {
			return nil, Output{}, fmt.Errorf("mcpserver: encode result: %w", err)
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: string(text)}},
		}, out, nil
	}
}

// toolError prefixes the error with its stable kind so clients can branch on
// it without parsing prose.
func toolError(err error) error {
	return fmt.Errorf("%s: %w", types.ErrorKind(err), err)
}
