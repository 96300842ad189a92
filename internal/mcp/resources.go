package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const (
	statsURI         = "keygate://stats"
	licenseURIPrefix = "keygate://license/"
)

// registerResources adds MCP resource definitions to the server. Resources
// provide read-only data that LLM clients can load into their context.
func (s *MCPServer) registerResources(srv *server.MCPServer) {

	// -------------------------------------------------------------------
	// keygate://stats: aggregate license and API key counts
	// -------------------------------------------------------------------
	srv.AddResource(
		mcp.NewResource(
			statsURI,
			"License Statistics",
			mcp.WithResourceDescription(
				"Counts of licenses and API keys by state and their total usage.",
			),
			mcp.WithMIMEType("application/json"),
		),
		s.handleStatsResource,
	)

	// -------------------------------------------------------------------
	// keygate://license/{key}: a single license record (template)
	// -------------------------------------------------------------------
	srv.AddResourceTemplate(
		mcp.NewResourceTemplate(
			licenseURIPrefix+"{key}",
			"License Record",
			mcp.WithTemplateDescription(
				"The stored record for one license key. Reading it does not count a use.",
			),
			mcp.WithTemplateMIMEType("application/json"),
		),
		s.handleLicenseResource,
	)
}

func (s *MCPServer) handleStatsResource(
	ctx context.Context,
	request mcp.ReadResourceRequest,
) ([]mcp.ResourceContents, error) {

	st, err := s.collectStats(ctx)
	if err != nil {
		return nil, err
	}
	return jsonResource(statsURI, st)
}

func (s *MCPServer) handleLicenseResource(
	ctx context.Context,
	request mcp.ReadResourceRequest,
) ([]mcp.ResourceContents, error) {

	uri := request.Params.URI
	key := strings.TrimPrefix(uri, licenseURIPrefix)
	if key == "" || key == uri {
		return nil, fmt.Errorf("invalid license URI %q: expected %s{key}", uri, licenseURIPrefix)
	}

	lic, err := s.licenses.Info(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("license %q: %w", key, err)
	}
	return jsonResource(uri, lic)
}

func jsonResource(uri string, v interface{}) ([]mcp.ResourceContents, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", uri, err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(b),
		},
	}, nil
}
