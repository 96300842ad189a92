package mcp

import (
	"context"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/toolboxhq/keygate/internal/model"
	"github.com/toolboxhq/keygate/internal/service"
)

// registerTools registers the keygate MCP tools on the given server.
func (s *MCPServer) registerTools(srv *server.MCPServer) {

	// ----- Verification tools -----

	srv.AddTool(
		mcp.NewTool("keygate_verify_license",
			mcp.WithDescription(
				"Verify a license key for its owner email. A successful check counts "+
					"one use. Fails when the key is unknown, revoked, owned by another "+
					"email or expired.",
			),
			mcp.WithToolAnnotation(mutatingAnnotation()),
			mcp.WithString("license_key",
				mcp.Required(),
				mcp.Description("The 32-character license key"),
			),
			mcp.WithString("email",
				mcp.Required(),
				mcp.Description("Email the license was issued to"),
			),
		),
		s.handleVerifyLicense,
	)

	srv.AddTool(
		mcp.NewTool("keygate_verify_api_key",
			mcp.WithDescription(
				"Check an API key and count one use. Returns the service it was issued for.",
			),
			mcp.WithToolAnnotation(mutatingAnnotation()),
			mcp.WithString("api_key",
				mcp.Required(),
				mcp.Description("The raw API key"),
			),
		),
		s.handleVerifyAPIKey,
	)

	// ----- Read-only tools -----

	srv.AddTool(
		mcp.NewTool("keygate_license_info",
			mcp.WithDescription(
				"Return the stored record for a license key, including owner, tier, "+
					"expiry, active flag and usage count. Does not count a use.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("license_key",
				mcp.Required(),
				mcp.Description("The license key to look up"),
			),
		),
		s.handleLicenseInfo,
	)

	srv.AddTool(
		mcp.NewTool("keygate_check_gate",
			mcp.WithDescription(
				"Report the feature-gate limits for an email and, when kind and count "+
					"are given, whether an operation of that size is allowed. Free-tier "+
					"caps: 5 PDF files, 10 files per batch, 20 images.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("email",
				mcp.Description("Owner email. Omit to consider every license."),
			),
			mcp.WithString("kind",
				mcp.Description("Operation kind"),
				mcp.Enum(service.Kinds...),
			),
			mcp.WithNumber("count",
				mcp.Description("Number of items in the operation"),
			),
		),
		s.handleCheckGate,
	)

	srv.AddTool(
		mcp.NewTool("keygate_stats",
			mcp.WithDescription(
				"Aggregate counts of licenses and API keys by state, with total usage.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
		),
		s.handleStats,
	)

	if s.cfg.ReadOnly {
		return
	}

	// ----- Mutation tools -----

	srv.AddTool(
		mcp.NewTool("keygate_issue_license",
			mcp.WithDescription(
				"Issue a new license valid for one year. Returns the full record "+
					"including the generated key.",
			),
			mcp.WithToolAnnotation(mutatingAnnotation()),
			mcp.WithString("email",
				mcp.Required(),
				mcp.Description("Owner email"),
			),
			mcp.WithString("name",
				mcp.Description("Owner display name"),
			),
			mcp.WithString("license_type",
				mcp.Description("License tier (default pro)"),
			),
		),
		s.handleIssueLicense,
	)

	srv.AddTool(
		mcp.NewTool("keygate_revoke_license",
			mcp.WithDescription(
				"Revoke a license. The record is kept but every later verification "+
					"fails. Revoking twice succeeds.",
			),
			mcp.WithToolAnnotation(mcp.ToolAnnotation{
				ReadOnlyHint:    boolPtr(false),
				DestructiveHint: boolPtr(true),
				IdempotentHint:  boolPtr(true),
			}),
			mcp.WithString("license_key",
				mcp.Required(),
				mcp.Description("The license key to revoke"),
			),
		),
		s.handleRevokeLicense,
	)
}

// ---------------------------------------------------------------------------
// Tool handlers
// ---------------------------------------------------------------------------

func (s *MCPServer) handleVerifyLicense(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	key, err := requireString(request, "license_key")
	if err != nil {
		return toolError("%v", err)
	}
	email, err := requireString(request, "email")
	if err != nil {
		return toolError("%v", err)
	}

	lic, err := s.licenses.Verify(ctx, key, email)
	if err != nil {
		return serviceError("License verification failed", err)
	}
	return successJSON(map[string]interface{}{
		"valid":        true,
		"license_type": lic.Type,
		"expires_at":   lic.ExpiresAt,
		"usage_count":  lic.UsageCount,
	})
}

func (s *MCPServer) handleVerifyAPIKey(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	raw, err := requireString(request, "api_key")
	if err != nil {
		return toolError("%v", err)
	}

	rec, err := s.keys.Verify(ctx, raw)
	if err != nil {
		return serviceError("API key verification failed", err)
	}
	return successJSON(map[string]interface{}{
		"valid":       true,
		"service":     rec.Service,
		"usage_count": rec.UsageCount,
		"last_used":   rec.LastUsedString(),
	})
}

func (s *MCPServer) handleLicenseInfo(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	key, err := requireString(request, "license_key")
	if err != nil {
		return toolError("%v", err)
	}

	lic, err := s.licenses.Info(ctx, key)
	if err != nil {
		return serviceError("License lookup failed", err)
	}
	return successJSON(lic)
}

func (s *MCPServer) handleCheckGate(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	email := optionalString(request, "email")
	l, err := s.gate.Limits(ctx, email)
	if err != nil {
		return toolError("Failed to load limits: %v", err)
	}

	result := struct {
		Email    string              `json:"email,omitempty"`
		Limits   model.Limits        `json:"limits"`
		Features model.FeatureStatus `json:"features"`
		Decision *model.Decision     `json:"decision,omitempty"`
	}{Email: email, Limits: l, Features: l.Features()}

	if kind := optionalString(request, "kind"); kind != "" {
		count := optionalInt(request, "count", -1)
		if count < 0 {
			return toolError("count is required with kind and must not be negative")
		}
		d, err := s.gate.Check(ctx, email, kind, count)
		if err != nil {
			return toolError("%v. Valid kinds: %v", err, service.Kinds)
		}
		result.Decision = &d
	}
	return successJSON(result)
}

func (s *MCPServer) handleStats(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	st, err := s.collectStats(ctx)
	if err != nil {
		return toolError("%v", err)
	}
	return successJSON(st)
}

func (s *MCPServer) collectStats(ctx context.Context) (model.Stats, error) {
	st, err := service.CollectStats(ctx, s.store, s.now())
	if err != nil {
		return model.Stats{}, fmt.Errorf("failed to collect stats: %w", err)
	}
	return st, nil
}

func (s *MCPServer) handleIssueLicense(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	email, err := requireString(request, "email")
	if err != nil {
		return toolError("%v", err)
	}

	lic, err := s.licenses.Issue(ctx, email,
		optionalString(request, "name"), optionalString(request, "license_type"))
	if err != nil {
		return serviceError("License issuance failed", err)
	}
	return successJSON(lic)
}

func (s *MCPServer) handleRevokeLicense(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	key, err := requireString(request, "license_key")
	if err != nil {
		return toolError("%v", err)
	}

	if err := s.licenses.Revoke(ctx, key); err != nil {
		return serviceError("License revocation failed", err)
	}
	return successJSON(map[string]interface{}{
		"revoked":     true,
		"license_key": key,
	})
}

// serviceError reports a service outcome with its reason so the caller can
// tell a revoked key from an unknown one.
func serviceError(prefix string, err error) (*mcp.CallToolResult, error) {
	if reason := service.Reason(err); reason != "" {
		return toolError("%s (%s): %v", prefix, reason, err)
	}
	if errors.Is(err, context.Canceled) {
		return nil, err
	}
	return toolError("%s: %v", prefix, err)
}
