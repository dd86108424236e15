package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/goliatone/go-govnotify/core"

	goerrors "github.com/goliatone/go-errors"
)

const KindGraphQL = "graphql"

// GraphQLAdapter posts {query, variables, operationName} documents over a
// RESTAdapter. The query comes from Metadata["query"] or the request body.
type GraphQLAdapter struct {
	Endpoint string
	REST     *RESTAdapter
}

func NewGraphQLAdapter(endpoint string, client HTTPDoer) *GraphQLAdapter {
	return &GraphQLAdapter{
		Endpoint: strings.TrimSpace(endpoint),
		REST:     NewRESTAdapter(client),
	}
}

func (*GraphQLAdapter) Kind() string {
	return KindGraphQL
}

func (a *GraphQLAdapter) Do(ctx context.Context, req core.TransportRequest) (core.TransportResponse, error) {
	if a == nil || a.REST == nil {
		return core.TransportResponse{}, transportError(
			"transport: graphql adapter requires a rest adapter",
			goerrors.CategoryInternal,
			http.StatusInternalServerError,
			map[string]any{"adapter": KindGraphQL},
		)
	}
	endpoint := strings.TrimSpace(req.URL)
	if endpoint == "" {
		endpoint = a.Endpoint
	}
	if endpoint == "" {
		return core.TransportResponse{}, transportError("transport: graphql endpoint is required", goerrors.CategoryBadInput, http.StatusBadRequest, map[string]any{"adapter": KindGraphQL})
	}
	query := metadataString(req.Metadata, "query")
	if query == "" {
		query = strings.TrimSpace(string(req.Body))
	}
	if query == "" {
		return core.TransportResponse{}, transportError("transport: graphql query is required", goerrors.CategoryBadInput, http.StatusBadRequest, map[string]any{"adapter": KindGraphQL})
	}

	document := graphQLDocument{Query: query, OperationName: metadataString(req.Metadata, "operation_name")}
	if variables, ok := req.Metadata["variables"].(map[string]any); ok {
		document.Variables = variables
	}
	body, err := json.Marshal(document)
	if err != nil {
		return core.TransportResponse{}, transportWrapError(err, goerrors.CategoryBadInput, "transport: marshal graphql payload", http.StatusBadRequest, map[string]any{"adapter": KindGraphQL})
	}

	headers := map[string]string{"Content-Type": "application/json", "Accept": "application/json"}
	for key, value := range req.Headers {
		headers[key] = value
	}
	response, err := a.REST.Do(ctx, core.TransportRequest{
		Method:               http.MethodPost,
		URL:                  endpoint,
		Headers:              headers,
		Body:                 body,
		Timeout:              req.Timeout,
		MaxResponseBodyBytes: req.MaxResponseBodyBytes,
	})
	if err != nil {
		return core.TransportResponse{}, err
	}
	if response.Metadata == nil {
		response.Metadata = map[string]any{}
	}
	response.Metadata["kind"] = KindGraphQL
	return response, nil
}

type graphQLDocument struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
}

type GraphQLError struct {
	Message string `json:"message"`
}

type graphQLEnvelope struct {
	Data   json.RawMessage `json:"data"`
	Errors []GraphQLError  `json:"errors"`
}

// DecodeGraphQL checks the HTTP status, surfaces the first GraphQL error and
// unmarshals the data member into out.
func DecodeGraphQL(res core.TransportResponse, out any) error {
	if err := CheckStatus(res); err != nil {
		return err
	}
	var envelope graphQLEnvelope
	if err := json.Unmarshal(res.Body, &envelope); err != nil {
		return transportWrapError(err, goerrors.CategoryExternal, "transport: decode graphql response", http.StatusBadGateway, map[string]any{"adapter": KindGraphQL})
	}
	if len(envelope.Errors) > 0 {
		return transportError(
			fmt.Sprintf("transport: graphql error: %s", envelope.Errors[0].Message),
			goerrors.CategoryExternal,
			http.StatusBadGateway,
			map[string]any{"adapter": KindGraphQL, "errors": len(envelope.Errors)},
		)
	}
	if out == nil || len(envelope.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return transportWrapError(err, goerrors.CategoryExternal, "transport: decode graphql data", http.StatusBadGateway, map[string]any{"adapter": KindGraphQL})
	}
	return nil
}

func metadataString(metadata map[string]any, key string) string {
	if len(metadata) == 0 {
		return ""
	}
	value, ok := metadata[key]
	if !ok || value == nil {
		return ""
	}
	return strings.TrimSpace(fmt.Sprint(value))
}

var _ core.TransportAdapter = (*GraphQLAdapter)(nil)
