package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"ontimecar-scraper/internal/mangle"

	"github.com/mark3labs/mcp-go/mcp"
)

const (
	resourceMIMEJSON = "application/json"
)

func (s *Server) registerAllResources() {
	if s == nil || s.mcpServer == nil {
		return
	}

	s.mcpServer.AddResource(
		mcp.NewResource(
			"ontimecar://views",
			"OnTimeCar views",
			mcp.WithMIMEType(resourceMIMEJSON),
			mcp.WithResourceDescription("Every queryable view with its ordered columns and policies."),
		),
		s.handleViewsResource,
	)

	s.mcpServer.AddResourceTemplate(
		mcp.NewResourceTemplate(
			"ontimecar://views/{view}",
			"OnTimeCar view",
			mcp.WithTemplateMIMEType(resourceMIMEJSON),
			mcp.WithTemplateDescription("Column layout of one view."),
		),
		s.handleViewResource,
	)

	s.mcpServer.AddResourceTemplate(
		mcp.NewResourceTemplate(
			"ontimecar://journal/{predicate}{?limit}",
			"Journal facts",
			mcp.WithTemplateMIMEType(resourceMIMEJSON),
			mcp.WithTemplateDescription("Most recent buffered journal facts of one base predicate."),
		),
		s.handleJournalResource,
	)
}

func (s *Server) handleViewsResource(_ context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return jsonResource(request.Params.URI, viewsPayload(s.registry))
}

func (s *Server) handleViewResource(_ context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	name := argString(request.Params.Arguments["view"])
	if name == "" {
		name = strings.TrimPrefix(request.Params.URI, "ontimecar://views/")
	}
	v, ok := s.registry.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("unknown view %q", name)
	}
	return jsonResource(request.Params.URI, v.Info())
}

func (s *Server) handleJournalResource(_ context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	if s.journal == nil || !s.journal.Enabled() {
		return nil, fmt.Errorf("journal unavailable")
	}

	predicate := argString(request.Params.Arguments["predicate"])
	if predicate == "" {
		return nil, fmt.Errorf("missing predicate")
	}
	limit := getIntArg(map[string]interface{}{"limit": argString(request.Params.Arguments["limit"])}, "limit", 25)
	if limit <= 0 {
		limit = 25
	}
	if limit > 500 {
		limit = 500
	}

	facts := recentFacts(s.journal.FactsByPredicate(predicate), limit)
	return jsonResource(request.Params.URI, map[string]interface{}{
		"predicate": predicate,
		"limit":     limit,
		"count":     len(facts),
		"facts":     facts,
	})
}

// recentFacts keeps the newest limit facts in chronological order.
func recentFacts(facts []mangle.Fact, limit int) []mangle.Fact {
	if limit <= 0 || len(facts) == 0 {
		return []mangle.Fact{}
	}
	if len(facts) > limit {
		facts = facts[len(facts)-limit:]
	}
	return append([]mangle.Fact(nil), facts...)
}

func jsonResource(uri string, payload interface{}) ([]mcp.ResourceContents, error) {
	text, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: resourceMIMEJSON,
			Text:     string(text),
		},
	}, nil
}

func argString(v any) string {
	switch value := v.(type) {
	case nil:
		return ""
	case string:
		return value
	case []string:
		if len(value) == 0 {
			return ""
		}
		return value[0]
	default:
		return fmt.Sprintf("%v", value)
	}
}
