package openapi

import (
	"github.com/getkin/kin-openapi/openapi3"

	"github.com/toolboxhq/keygate/internal/model"
)

// Generate builds the OpenAPI 3.1 document for the keygate HTTP API.
func Generate(version, baseURL string) *openapi3.T {
	doc := &openapi3.T{
		OpenAPI: "3.1.0",
		Info: &openapi3.Info{
			Title:       "keygate API",
			Description: "License and API-key issuance, verification and revocation.",
			Version:     version,
		},
	}
	if baseURL != "" {
		doc.Servers = openapi3.Servers{{URL: baseURL}}
	}

	components := openapi3.NewComponents()
	components.Schemas = openapi3.Schemas{}
	components.SecuritySchemes = openapi3.SecuritySchemes{}
	doc.Components = &components

	// Admin credentials; only enforced when the server runs with auth.required.
	doc.Components.SecuritySchemes["apiKey"] = &openapi3.SecuritySchemeRef{
		Value: &openapi3.SecurityScheme{
			Type: "apiKey",
			In:   "header",
			Name: "X-API-Key",
		},
	}
	doc.Components.SecuritySchemes["bearerAuth"] = &openapi3.SecuritySchemeRef{
		Value: &openapi3.SecurityScheme{
			Type:         "http",
			Scheme:       "bearer",
			BearerFormat: "JWT",
		},
	}

	schemas := doc.Components.Schemas
	schemas["ErrorResponse"] = SchemaOf(model.ErrorResponse{})
	schemas["License"] = SchemaOf(model.License{})
	schemas["APIKey"] = SchemaOf(model.APIKey{})
	schemas["Stats"] = SchemaOf(model.Stats{})
	schemas["Limits"] = SchemaOf(model.Limits{})
	schemas["FeatureStatus"] = SchemaOf(model.FeatureStatus{})
	schemas["Decision"] = SchemaOf(model.Decision{})

	doc.Paths = openapi3.NewPaths()
	addSystemPaths(doc)
	addLicensePaths(doc)
	addAPIKeyPaths(doc)
	return doc
}

// ─── System ─────────────────────────────────────────────────────────────────

func addSystemPaths(doc *openapi3.T) {
	doc.Paths.Set("/", &openapi3.PathItem{
		Get: &openapi3.Operation{
			Tags:        []string{"system"},
			Summary:     "Service banner",
			OperationID: "root",
			Responses: newResponses("200", "Service banner", object(nil,
				prop("message", "string"),
				prop("version", "string"),
				prop("status", "string"),
			)),
		},
	})

	health := object([]string{"status", "timestamp", "version", "services"},
		prop("status", "string"),
		propFormat("timestamp", "string", "date-time"),
		prop("version", "string"),
		prop("services", "object"),
	)
	healthResponses := newResponses("200", "Healthy", health)
	unhealthy := "Store unreachable"
	healthResponses.Set("503", &openapi3.ResponseRef{
		Value: &openapi3.Response{
			Description: &unhealthy,
			Content:     openapi3.NewContentWithJSONSchemaRef(health),
		},
	})
	doc.Paths.Set("/health", &openapi3.PathItem{
		Get: &openapi3.Operation{
			Tags:        []string{"system"},
			Summary:     "Health check",
			Description: "Reports process and store health. Returns 503 when the store ping fails.",
			OperationID: "health",
			Responses:   healthResponses,
		},
	})

	doc.Paths.Set("/stats", &openapi3.PathItem{
		Get: &openapi3.Operation{
			Tags:        []string{"system"},
			Summary:     "Aggregate counts",
			OperationID: "stats",
			Responses:   newResponses("200", "License and API-key counts", ref("Stats")),
		},
	})

	doc.Paths.Set("/limits", &openapi3.PathItem{
		Get: &openapi3.Operation{
			Tags:        []string{"gate"},
			Summary:     "Feature-gate limits",
			Description: "Returns the caps for an email. With kind and count it also returns the decision for that operation.",
			OperationID: "limits",
			Parameters: openapi3.Parameters{
				queryParam("email", "Owner email; any active paid license counts when omitted.", openapi3.NewStringSchema()),
				queryParam("kind", "Operation kind: pdf, batch or image.",
					openapi3.NewStringSchema().WithEnum("pdf", "batch", "image")),
				queryParam("count", "Number of items in the operation.", openapi3.NewIntegerSchema().WithMin(0)),
			},
			Responses: newResponses("200", "Limits and features", object([]string{"success", "limits", "features"},
				prop("success", "boolean"),
				prop("email", "string"),
				named("limits", ref("Limits")),
				named("features", ref("FeatureStatus")),
				named("decision", ref("Decision")),
			)),
		},
	})

	metricsDesc := "Prometheus exposition format"
	metricsResponses := openapi3.NewResponses()
	metricsResponses.Set("200", &openapi3.ResponseRef{
		Value: &openapi3.Response{
			Description: &metricsDesc,
			Content: openapi3.Content{
				"text/plain": &openapi3.MediaType{Schema: &openapi3.SchemaRef{Value: openapi3.NewStringSchema()}},
			},
		},
	})
	doc.Paths.Set("/metrics", &openapi3.PathItem{
		Get: &openapi3.Operation{
			Tags:        []string{"system"},
			Summary:     "Prometheus metrics",
			OperationID: "metrics",
			Responses:   metricsResponses,
		},
	})
}

// ─── Licenses ───────────────────────────────────────────────────────────────

func addLicensePaths(doc *openapi3.T) {
	doc.Paths.Set("/generate-license", &openapi3.PathItem{
		Post: &openapi3.Operation{
			Tags:        []string{"licenses"},
			Summary:     "Issue a license",
			OperationID: "generate_license",
			Security:    adminSecurity(),
			RequestBody: jsonBody("License owner", object([]string{"email"},
				prop("email", "string"),
				prop("name", "string"),
				prop("license_type", "string"),
			)),
			Responses: newResponses("200", "Issued license", object([]string{"success", "license_key", "message", "license_data"},
				prop("success", "boolean"),
				prop("license_key", "string"),
				prop("message", "string"),
				named("license_data", ref("License")),
			)),
		},
	})

	doc.Paths.Set("/verify-license", &openapi3.PathItem{
		Post: &openapi3.Operation{
			Tags:        []string{"licenses"},
			Summary:     "Verify a license",
			Description: "Checks existence, active flag, owner email and expiry in that order. Success counts one use.",
			OperationID: "verify_license",
			RequestBody: jsonBody("License and owner", object([]string{"license_key", "email"},
				prop("license_key", "string"),
				prop("email", "string"),
			)),
			Responses: withForbidden(newResponses("200", "Verified", object(nil,
				prop("success", "boolean"),
				prop("message", "string"),
				prop("license_type", "string"),
				propFormat("expires_at", "string", "date-time"),
				propFormat("usage_count", "integer", "int64"),
			))),
		},
	})

	doc.Paths.Set("/license-info/{key}", &openapi3.PathItem{
		Get: &openapi3.Operation{
			Tags:        []string{"licenses"},
			Summary:     "Get a license record",
			OperationID: "license_info",
			Security:    adminSecurity(),
			Parameters:  openapi3.Parameters{pathParam("key", "License key")},
			Responses: newResponses("200", "License record", object([]string{"success", "license_data"},
				prop("success", "boolean"),
				named("license_data", ref("License")),
			)),
		},
	})

	doc.Paths.Set("/revoke-license", &openapi3.PathItem{
		Post: revokeOperation("licenses", "revoke_license", "license_key", "Revoke a license"),
	})
}

// ─── API keys ───────────────────────────────────────────────────────────────

func addAPIKeyPaths(doc *openapi3.T) {
	keyData := SchemaOf(model.APIKey{})
	keyData.Value.Properties["api_key"] = &openapi3.SchemaRef{Value: openapi3.NewStringSchema()}

	doc.Paths.Set("/generate-api-key", &openapi3.PathItem{
		Post: &openapi3.Operation{
			Tags:        []string{"api-keys"},
			Summary:     "Issue an API key",
			Description: "The raw key is returned only by this call; only its hash is stored.",
			OperationID: "generate_api_key",
			Security:    adminSecurity(),
			RequestBody: jsonBody("Service name", object([]string{"service"}, prop("service", "string"))),
			Responses: newResponses("200", "Issued API key", object([]string{"success", "api_key", "message", "key_data"},
				prop("success", "boolean"),
				prop("api_key", "string"),
				prop("message", "string"),
				named("key_data", keyData),
			)),
		},
	})

	doc.Paths.Set("/verify-api-key", &openapi3.PathItem{
		Post: &openapi3.Operation{
			Tags:        []string{"api-keys"},
			Summary:     "Verify an API key",
			OperationID: "verify_api_key",
			RequestBody: jsonBody("API key", object([]string{"api_key"}, prop("api_key", "string"))),
			Responses: withForbidden(newResponses("200", "Verified", object(nil,
				prop("success", "boolean"),
				prop("message", "string"),
				prop("service", "string"),
				propFormat("usage_count", "integer", "int64"),
				propFormat("last_used", "string", "date-time"),
			))),
		},
	})

	doc.Paths.Set("/api-usage/{key}", &openapi3.PathItem{
		Get: &openapi3.Operation{
			Tags:        []string{"api-keys"},
			Summary:     "API-key usage",
			Description: "Reads the counters without counting a use. last_used is \"Never\" when unset.",
			OperationID: "api_usage",
			Security:    adminSecurity(),
			Parameters:  openapi3.Parameters{pathParam("key", "Raw API key")},
			Responses: newResponses("200", "Usage report", object(nil,
				prop("api_key", "string"),
				prop("service", "string"),
				propFormat("usage_count", "integer", "int64"),
				propFormat("created_at", "string", "date-time"),
				prop("last_used", "string"),
			)),
		},
	})

	doc.Paths.Set("/revoke-api-key", &openapi3.PathItem{
		Post: revokeOperation("api-keys", "revoke_api_key", "api_key", "Revoke an API key"),
	})
}

// revokeOperation takes the key from the query string or a JSON body.
func revokeOperation(tag, opID, param, summary string) *openapi3.Operation {
	body := jsonBody("Key to revoke (alternative to the query parameter)", object(nil, prop(param, "string")))
	body.Value.Required = false
	return &openapi3.Operation{
		Tags:        []string{tag},
		Summary:     summary,
		Description: "Revoking an already revoked key succeeds.",
		OperationID: opID,
		Security:    adminSecurity(),
		Parameters:  openapi3.Parameters{queryParam(param, "Key to revoke", openapi3.NewStringSchema())},
		RequestBody: body,
		Responses: newResponses("200", "Revoked", object(nil,
			prop("success", "boolean"),
			prop("message", "string"),
		)),
	}
}

// ─── Builders ───────────────────────────────────────────────────────────────

type namedSchema struct {
	name   string
	schema *openapi3.SchemaRef
}

func prop(name, typ string) namedSchema {
	return propFormat(name, typ, "")
}

func propFormat(name, typ, format string) namedSchema {
	return namedSchema{name, &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{typ}, Format: format}}}
}

func named(name string, s *openapi3.SchemaRef) namedSchema {
	return namedSchema{name, s}
}

func object(required []string, props ...namedSchema) *openapi3.SchemaRef {
	s := &openapi3.Schema{
		Type:       &openapi3.Types{"object"},
		Properties: openapi3.Schemas{},
		Required:   required,
	}
	for _, p := range props {
		s.Properties[p.name] = p.schema
	}
	return &openapi3.SchemaRef{Value: s}
}

func ref(name string) *openapi3.SchemaRef {
	return openapi3.NewSchemaRef("#/components/schemas/"+name, nil)
}

func jsonBody(desc string, schema *openapi3.SchemaRef) *openapi3.RequestBodyRef {
	return &openapi3.RequestBodyRef{
		Value: &openapi3.RequestBody{
			Description: desc,
			Required:    true,
			Content:     openapi3.NewContentWithJSONSchemaRef(schema),
		},
	}
}

func queryParam(name, desc string, schema *openapi3.Schema) *openapi3.ParameterRef {
	return &openapi3.ParameterRef{
		Value: openapi3.NewQueryParameter(name).WithDescription(desc).WithSchema(schema),
	}
}

func pathParam(name, desc string) *openapi3.ParameterRef {
	return &openapi3.ParameterRef{
		Value: openapi3.NewPathParameter(name).WithDescription(desc).WithSchema(openapi3.NewStringSchema()),
	}
}

func adminSecurity() *openapi3.SecurityRequirements {
	return &openapi3.SecurityRequirements{
		{"apiKey": {}},
		{"bearerAuth": {}},
	}
}

// newResponses builds a Responses map with a success response and standard error responses.
func newResponses(statusCode, description string, schema *openapi3.SchemaRef) *openapi3.Responses {
	responses := openapi3.NewResponses()

	successDesc := description
	responses.Set(statusCode, &openapi3.ResponseRef{
		Value: &openapi3.Response{
			Description: &successDesc,
			Content:     openapi3.NewContentWithJSONSchemaRef(schema),
		},
	})

	for _, e := range []struct{ code, desc string }{
		{"400", "Bad request"},
		{"401", "Unauthorized"},
		{"404", "Not found"},
		{"500", "Internal server error"},
	} {
		desc := e.desc
		responses.Set(e.code, &openapi3.ResponseRef{
			Value: &openapi3.Response{
				Description: &desc,
				Content:     openapi3.NewContentWithJSONSchemaRef(ref("ErrorResponse")),
			},
		})
	}
	return responses
}

// withForbidden adds the 403 response verification routes return for
// inactive, mismatched or expired keys.
func withForbidden(r *openapi3.Responses) *openapi3.Responses {
	desc := "Key inactive, owner mismatch or expired"
	r.Set("403", &openapi3.ResponseRef{
		Value: &openapi3.Response{
			Description: &desc,
			Content:     openapi3.NewContentWithJSONSchemaRef(ref("ErrorResponse")),
		},
	})
	return r
}
