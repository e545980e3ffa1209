package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/charmbracelet/log"
)

// StdioTransport serves line-delimited JSON-RPC 2.0 over an input and
// output stream. One request per line in, one response per line out;
// diagnostics go to the logger only, never the output stream.
type StdioTransport struct {
	server *Server
	in     io.Reader
	out    io.Writer
	logger *log.Logger
}

// NewStdioTransport wires a Server to the given streams. Pass os.Stdin
// and os.Stdout for real stdio serving.
func NewStdioTransport(srv *Server, in io.Reader, out io.Writer) *StdioTransport {
	return &StdioTransport{
		server: srv,
		in:     in,
		out:    out,
		logger: log.Default().With("component", "transport"),
	}
}

// maxFrameSize bounds a single request line.
const maxFrameSize = 4 * 1024 * 1024

// Serve processes requests until the input stream closes or the context
// is cancelled. Requests are handled synchronously in arrival order.
func (t *StdioTransport) Serve(ctx context.Context) error {
	scanner := bufio.NewScanner(t.in)
	scanner.Buffer(make([]byte, maxFrameSize), maxFrameSize)

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("context cancelled, shutting down")
			return ctx.Err()
		default:
		}

		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return fmt.Errorf("read request: %w", err)
			}
			t.logger.Info("input closed, shutting down")
			return nil
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		resp, err := t.server.HandleRequest(ctx, line)
		if err != nil {
			t.logger.Error("handler failed", "err", err)
			resp = internalErrorResponse(line, err)
		}
		if _, err := fmt.Fprintf(t.out, "%s\n", resp); err != nil {
			return fmt.Errorf("write response: %w", err)
		}
	}
}

// internalErrorResponse builds a best-effort error frame when the
// server itself failed to produce one, recovering the request id so the
// caller can correlate.
func internalErrorResponse(rawRequest []byte, handlerErr error) []byte {
	var partial struct {
		ID interface{} `json:"id"`
	}
	_ = json.Unmarshal(rawRequest, &partial)

	data, err := json.Marshal(JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      partial.ID,
		Error:   &JSONRPCError{Code: ErrCodeInternalError, Message: Redact(handlerErr.Error())},
	})
	if err != nil {
		return []byte(`{"jsonrpc":"2.0","id":null,"error":{"code":-32603,"message":"internal error"}}`)
	}
	return data
}
