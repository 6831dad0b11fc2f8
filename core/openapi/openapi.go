// Package openapi derives an OpenAPI 3 document from the configuration.
package openapi

import (
	"fmt"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/goccy/go-json"
	"gopkg.in/yaml.v3"

	"github.com/pretendo-dev/pretendo/core/apierror"
	"github.com/pretendo-dev/pretendo/core/config"
)

// Generate builds the OpenAPI description of the synthesized API.
func Generate(cfg *config.Document) *openapi3.T {
	doc := &openapi3.T{
		OpenAPI: "3.0.3",
		Info: &openapi3.Info{
			Title:       cfg.Name,
			Description: "Mock REST API generated from a declarative configuration.",
			Version:     "1.0.0",
		},
		Paths: openapi3.NewPaths(),
	}
	doc.Servers = openapi3.Servers{
		{URL: fmt.Sprintf("http://%s:%d", cfg.Options.Host, cfg.Options.Port)},
	}
	if cfg.Options.Auth.Enabled {
		doc.Components = &openapi3.Components{
			SecuritySchemes: openapi3.SecuritySchemes{
				"bearerAuth": &openapi3.SecuritySchemeRef{
					Value: openapi3.NewSecurityScheme().WithType("http").WithScheme("bearer"),
				},
			},
		}
	}
	for i := range cfg.Resources {
		addResourcePaths(doc, &cfg.Resources[i])
	}
	addAdminPaths(doc)
	if cfg.Options.Auth.Enabled {
		addAuthPaths(doc, cfg.Options.Auth.Endpoint)
	}
	for _, route := range cfg.Routes {
		addCustomPath(doc, route)
	}
	return doc
}

// MarshalYAML renders the document as YAML.
func MarshalYAML(doc *openapi3.T) ([]byte, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, apierror.Wrap(apierror.KindInternal, err, "cannot serialize OpenAPI document")
	}
	var tree map[string]interface{}
	if err := json.Unmarshal(raw, &tree); err != nil {
		return nil, apierror.Wrap(apierror.KindInternal, err, "cannot serialize OpenAPI document")
	}
	out, err := yaml.Marshal(tree)
	if err != nil {
		return nil, apierror.Wrap(apierror.KindInternal, err, "cannot serialize OpenAPI document")
	}
	return out, nil
}

func fieldSchema(f config.Field) *openapi3.SchemaRef {
	var schema *openapi3.Schema
	switch f.Type {
	case config.TypeNumber:
		schema = openapi3.NewFloat64Schema()
	case config.TypeBoolean:
		schema = openapi3.NewBoolSchema()
	case config.TypeObject:
		schema = openapi3.NewObjectSchema()
	case config.TypeArray:
		schema = openapi3.NewArraySchema()
	case config.TypeDate:
		schema = openapi3.NewStringSchema().WithFormat("date-time")
	case config.TypeUUID:
		schema = openapi3.NewStringSchema().WithFormat("uuid")
	default:
		schema = openapi3.NewStringSchema()
	}
	if f.Enum != nil {
		schema.Enum = f.Enum
	}
	if f.Min != nil {
		schema.Min = f.Min
	}
	if f.Max != nil {
		schema.Max = f.Max
	}
	if f.MinLength != nil {
		schema.MinLength = uint64(*f.MinLength)
	}
	if f.MaxLength != nil {
		v := uint64(*f.MaxLength)
		schema.MaxLength = &v
	}
	return openapi3.NewSchemaRef("", schema)
}

func resourceSchema(res *config.Resource) *openapi3.SchemaRef {
	schema := openapi3.NewObjectSchema()
	schema.Properties = openapi3.Schemas{}
	var required []string
	for _, f := range res.Fields {
		schema.Properties[f.Name] = fieldSchema(f)
		if f.Required {
			required = append(required, f.Name)
		}
	}
	schema.Required = required
	return openapi3.NewSchemaRef("", schema)
}

func jsonResponse(description string, schema *openapi3.SchemaRef) *openapi3.ResponseRef {
	response := openapi3.NewResponse().WithDescription(description)
	if schema != nil {
		response = response.WithContent(openapi3.NewContentWithJSONSchemaRef(schema))
	}
	return &openapi3.ResponseRef{Value: response}
}

func idParameter() *openapi3.ParameterRef {
	p := openapi3.NewPathParameter("id")
	p.Schema = openapi3.NewSchemaRef("", openapi3.NewStringSchema())
	return &openapi3.ParameterRef{Value: p}
}

func addResourcePaths(doc *openapi3.T, res *config.Resource) {
	schema := resourceSchema(res)
	listResponses := openapi3.NewResponses()
	listResponses.Set("200", jsonResponse("paginated collection", nil))
	createResponses := openapi3.NewResponses()
	createResponses.Set("201", jsonResponse("created record", schema))
	createResponses.Set("400", jsonResponse("validation failure", nil))

	collection := &openapi3.PathItem{
		Get: &openapi3.Operation{
			OperationID: "list_" + res.Name,
			Summary:     "List " + res.Name,
			Responses:   listResponses,
		},
		Post: &openapi3.Operation{
			OperationID: "create_" + res.Name,
			Summary:     "Create a " + res.Name + " record",
			RequestBody: &openapi3.RequestBodyRef{
				Value: openapi3.NewRequestBody().WithContent(openapi3.NewContentWithJSONSchemaRef(schema)),
			},
			Responses: createResponses,
		},
	}
	doc.Paths.Set("/"+res.Name, collection)

	itemResponses := func() *openapi3.Responses {
		r := openapi3.NewResponses()
		r.Set("200", jsonResponse("record", schema))
		r.Set("404", jsonResponse("not found", nil))
		return r
	}
	deleteResponses := openapi3.NewResponses()
	deleteResponses.Set("204", jsonResponse("deleted", nil))
	deleteResponses.Set("404", jsonResponse("not found", nil))
	body := &openapi3.RequestBodyRef{
		Value: openapi3.NewRequestBody().WithContent(openapi3.NewContentWithJSONSchemaRef(schema)),
	}
	item := &openapi3.PathItem{
		Parameters: openapi3.Parameters{idParameter()},
		Get: &openapi3.Operation{
			OperationID: "get_" + res.Name,
			Summary:     "Get one " + res.Name + " record",
			Responses:   itemResponses(),
		},
		Put: &openapi3.Operation{
			OperationID: "replace_" + res.Name,
			Summary:     "Replace a " + res.Name + " record",
			RequestBody: body,
			Responses:   itemResponses(),
		},
		Patch: &openapi3.Operation{
			OperationID: "update_" + res.Name,
			Summary:     "Update a " + res.Name + " record",
			RequestBody: body,
			Responses:   itemResponses(),
		},
		Delete: &openapi3.Operation{
			OperationID: "delete_" + res.Name,
			Summary:     "Delete a " + res.Name + " record",
			Responses:   deleteResponses,
		},
	}
	doc.Paths.Set("/"+res.Name+"/{id}", item)

	for _, rel := range res.Relationships {
		if rel.Type != config.RelHasMany && rel.Type != config.RelBelongsTo {
			continue
		}
		relResponses := openapi3.NewResponses()
		relResponses.Set("200", jsonResponse("related records", nil))
		doc.Paths.Set("/"+res.Name+"/{id}/"+rel.AttachName(), &openapi3.PathItem{
			Parameters: openapi3.Parameters{idParameter()},
			Get: &openapi3.Operation{
				OperationID: "related_" + res.Name + "_" + rel.AttachName(),
				Summary:     "List " + rel.AttachName() + " of a " + res.Name + " record",
				Responses:   relResponses,
			},
		})
	}
}

func addAdminPaths(doc *openapi3.T) {
	ok := func() *openapi3.Responses {
		r := openapi3.NewResponses()
		r.Set("200", jsonResponse("operation result", nil))
		return r
	}
	doc.Paths.Set("/__reset", &openapi3.PathItem{
		Post: &openapi3.Operation{OperationID: "admin_reset", Summary: "Reset the dataset to seed state", Responses: ok()},
	})
	doc.Paths.Set("/__backup", &openapi3.PathItem{
		Post: &openapi3.Operation{OperationID: "admin_backup", Summary: "Create a backup", Responses: ok()},
	})
	doc.Paths.Set("/__restore", &openapi3.PathItem{
		Post: &openapi3.Operation{OperationID: "admin_restore", Summary: "Restore a backup", Responses: ok()},
	})
	doc.Paths.Set("/__logs", &openapi3.PathItem{
		Get: &openapi3.Operation{OperationID: "admin_logs", Summary: "Inspect recent request logs", Responses: ok()},
	})
	doc.Paths.Set("/__stats", &openapi3.PathItem{
		Get: &openapi3.Operation{OperationID: "admin_stats", Summary: "Report persistence statistics", Responses: ok()},
	})
}

func addAuthPaths(doc *openapi3.T, endpoint string) {
	login := openapi3.NewResponses()
	login.Set("200", jsonResponse("token and subject", nil))
	login.Set("401", jsonResponse("invalid credentials", nil))
	doc.Paths.Set(endpoint, &openapi3.PathItem{
		Post: &openapi3.Operation{OperationID: "login", Summary: "Obtain a bearer token", Responses: login},
	})
	logout := openapi3.NewResponses()
	logout.Set("200", jsonResponse("token revoked", nil))
	doc.Paths.Set("/auth/logout", &openapi3.PathItem{
		Post: &openapi3.Operation{OperationID: "logout", Summary: "Revoke the presented token", Responses: logout},
	})
}

func addCustomPath(doc *openapi3.T, route config.CustomRoute) {
	responses := openapi3.NewResponses()
	responses.Set("200", jsonResponse("custom route response", nil))
	op := &openapi3.Operation{Summary: "Custom route", Responses: responses}
	item := doc.Paths.Value(route.Path)
	if item == nil {
		item = &openapi3.PathItem{}
	}
	item.SetOperation(route.Method, op)
	doc.Paths.Set(route.Path, item)
}
