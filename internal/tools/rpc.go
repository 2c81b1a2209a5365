package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/structpb"
)

// InvokeProcedure is the Connect procedure serving tool invocations. The
// request is a Struct with "tool" and "input" fields; the response is the
// ToolResponse as a Struct.
const InvokeProcedure = "/pipewatch.v1.ToolService/Invoke"

// NewHandler returns the path and handler serving r over Connect, gRPC and
// gRPC-Web.
func NewHandler(r *Registry, opts ...connect.HandlerOption) (string, http.Handler) {
	handler := connect.NewUnaryHandler(
		InvokeProcedure,
		func(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
			name := req.Msg.GetFields()["tool"].GetStringValue()
			if name == "" {
				return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("tool is required"))
			}

			var input json.RawMessage
			if v, ok := req.Msg.GetFields()["input"]; ok {
				raw, err := v.MarshalJSON()
				if err != nil {
					return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("invalid input: %w", err))
				}
				input = raw
			}

			resp, err := r.Invoke(ctx, name, input)
			if errors.Is(err, ErrUnknownTool) {
				return nil, connect.NewError(connect.CodeNotFound, err)
			}
			if err != nil {
				return nil, connect.NewError(connect.CodeInternal, err)
			}

			out, err := toStruct(resp)
			if err != nil {
				return nil, connect.NewError(connect.CodeInternal, err)
			}
			return connect.NewResponse(out), nil
		},
		opts...,
	)
	return InvokeProcedure, handler
}

func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode response: %w", err)
	}
	out := &structpb.Struct{}
	if err := out.UnmarshalJSON(raw); err != nil {
		return nil, fmt.Errorf("failed to encode response: %w", err)
	}
	return out, nil
}

// Client invokes tools on a remote pipewatch server.
type Client struct {
	invoke *connect.Client[structpb.Struct, structpb.Struct]
}

// NewClient creates a client for the server at baseURL.
func NewClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *Client {
	return &Client{
		invoke: connect.NewClient[structpb.Struct, structpb.Struct](
			httpClient,
			strings.TrimSuffix(baseURL, "/")+InvokeProcedure,
			opts...,
		),
	}
}

// Invoke runs a tool remotely. Tool-level failures come back in the response;
// the error covers transport failures and unknown tools.
func (c *Client) Invoke(ctx context.Context, name string, input json.RawMessage) (ToolResponse, error) {
	fields := map[string]*structpb.Value{"tool": structpb.NewStringValue(name)}
	if len(strings.TrimSpace(string(input))) > 0 {
		v := &structpb.Value{}
		if err := v.UnmarshalJSON(input); err != nil {
			return ToolResponse{}, fmt.Errorf("invalid input: %w", err)
		}
		fields["input"] = v
	}

	resp, err := c.invoke.CallUnary(ctx, connect.NewRequest(&structpb.Struct{Fields: fields}))
	if err != nil {
		return ToolResponse{}, err
	}

	raw, err := resp.Msg.MarshalJSON()
	if err != nil {
		return ToolResponse{}, fmt.Errorf("failed to decode response: %w", err)
	}
	var out ToolResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return ToolResponse{}, fmt.Errorf("failed to decode response: %w", err)
	}
	return out, nil
}
