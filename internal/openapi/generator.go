// Package openapi describes the kevd HTTP surface as an OpenAPI 3.1 document.
package openapi

import (
	"github.com/getkin/kin-openapi/openapi3"

	"github.com/faucetdb/kevd/internal/model"
)

// Options name the document and the catalog columns used in paths.
type Options struct {
	Title        string
	Version      string
	BaseURL      string
	IDColumn     string
	VendorColumn string
	// KeyIssuanceRequiresAuth marks POST /api-keys as authenticated.
	KeyIssuanceRequiresAuth bool
}

const (
	tagCatalog = "catalog"
	tagKeys    = "keys"
	tagSystem  = "system"

	recordRef = "#/components/schemas/KevRecord"
	errorRef  = "#/components/schemas/ErrorResponse"
)

// Generate builds the document. columns describes the loaded catalog table;
// when it is empty the record schema is a free-form object.
func Generate(opts Options, columns []model.Column) *openapi3.T {
	if opts.Title == "" {
		opts.Title = "kevd API"
	}
	if opts.Version == "" {
		opts.Version = "1.0.0"
	}

	doc := &openapi3.T{
		OpenAPI: "3.1.0",
		Info: &openapi3.Info{
			Title:       opts.Title,
			Description: "Authenticated read API over the CISA Known Exploited Vulnerabilities catalog.",
			Version:     opts.Version,
		},
		Paths: openapi3.NewPaths(),
		Tags: openapi3.Tags{
			{Name: tagCatalog, Description: "KEV catalog queries"},
			{Name: tagKeys, Description: "API key issuance"},
			{Name: tagSystem, Description: "Refresh and health"},
		},
	}
	if opts.BaseURL != "" {
		doc.Servers = openapi3.Servers{{URL: opts.BaseURL}}
	}

	components := openapi3.NewComponents()
	components.Schemas = componentSchemas(columns)
	components.SecuritySchemes = openapi3.SecuritySchemes{
		"apiKey": &openapi3.SecuritySchemeRef{
			Value: &openapi3.SecurityScheme{Type: "apiKey", In: "header", Name: "X-API-Key"},
		},
		"appName": &openapi3.SecuritySchemeRef{
			Value: &openapi3.SecurityScheme{Type: "apiKey", In: "header", Name: "App-Name"},
		},
	}
	doc.Components = &components

	// Key and app name must be presented together.
	doc.Security = openapi3.SecurityRequirements{{"apiKey": {}, "appName": {}}}

	addCatalogPaths(doc, opts)
	addSystemPaths(doc, opts)
	return doc
}

func addCatalogPaths(doc *openapi3.T, opts Options) {
	rows := openapi3.NewArraySchema()
	rows.Items = openapi3.NewSchemaRef(recordRef, nil)
	rowsRef := openapi3.NewSchemaRef("", rows)

	ids := openapi3.NewArraySchema()
	ids.Items = openapi3.NewSchemaRef("", openapi3.NewObjectSchema().
		WithProperty(opts.IDColumn, openapi3.NewStringSchema()))

	doc.Paths.Set("/", &openapi3.PathItem{Get: &openapi3.Operation{
		Tags:        []string{tagCatalog},
		Summary:     "List all KEV records",
		OperationID: "listRecords",
		Responses:   newResponses("200", "Every catalog row with all columns", rowsRef),
	}})

	doc.Paths.Set("/count", &openapi3.PathItem{Get: &openapi3.Operation{
		Tags:        []string{tagCatalog},
		Summary:     "Count KEV records",
		OperationID: "countRecords",
		Responses:   newResponses("200", "Number of catalog rows", openapi3.NewSchemaRef("#/components/schemas/CountResponse", nil)),
	}})

	doc.Paths.Set("/cve", &openapi3.PathItem{Get: &openapi3.Operation{
		Tags:        []string{tagCatalog},
		Summary:     "List CVE identifiers",
		OperationID: "listCVEs",
		Responses:   newResponses("200", "The "+opts.IDColumn+" of every row", openapi3.NewSchemaRef("", ids)),
	}})

	doc.Paths.Set("/cve/{cveID}", &openapi3.PathItem{Get: &openapi3.Operation{
		Tags:        []string{tagCatalog},
		Summary:     "Look up a CVE",
		Description: "Returns the rows whose " + opts.IDColumn + " equals cveID exactly.",
		OperationID: "getCVE",
		Parameters: openapi3.Parameters{
			{Value: openapi3.NewPathParameter("cveID").WithSchema(openapi3.NewStringSchema())},
		},
		Responses: newResponses("200", "Matching rows", rowsRef),
	}})

	doc.Paths.Set("/{vendor}", &openapi3.PathItem{Get: &openapi3.Operation{
		Tags:        []string{tagCatalog},
		Summary:     "List records for a vendor",
		Description: "Returns the rows whose " + opts.VendorColumn + " equals vendor, ignoring case.",
		OperationID: "listByVendor",
		Parameters: openapi3.Parameters{
			{Value: openapi3.NewPathParameter("vendor").WithSchema(openapi3.NewStringSchema())},
		},
		Responses: newResponses("200", "Matching rows", rowsRef),
	}})
}

func addSystemPaths(doc *openapi3.T, opts Options) {
	issue := &openapi3.Operation{
		Tags:        []string{tagKeys},
		Summary:     "Issue an API key",
		Description: "The application name is read from the App-Name header, the app_name query parameter or the app_name body field. The key is shown once.",
		OperationID: "createAPIKey",
		Parameters: openapi3.Parameters{
			{Value: openapi3.NewHeaderParameter("App-Name").WithSchema(openapi3.NewStringSchema())},
			{Value: openapi3.NewQueryParameter("app_name").WithSchema(openapi3.NewStringSchema())},
		},
		RequestBody: &openapi3.RequestBodyRef{Value: openapi3.NewRequestBody().
			WithJSONSchema(openapi3.NewObjectSchema().WithProperty("app_name", openapi3.NewStringSchema()))},
		Responses: newResponses("201", "Issued key", openapi3.NewSchemaRef("#/components/schemas/APIKeyResponse", nil)),
	}
	if !opts.KeyIssuanceRequiresAuth {
		issue.Security = &openapi3.SecurityRequirements{}
	}
	doc.Paths.Set("/api-keys", &openapi3.PathItem{Post: issue})

	doc.Paths.Set("/update-kev", &openapi3.PathItem{Post: &openapi3.Operation{
		Tags:        []string{tagSystem},
		Summary:     "Reload the catalog from the feed",
		OperationID: "refreshCatalog",
		Responses:   newResponses("200", "Refresh result", openapi3.NewSchemaRef("#/components/schemas/RefreshResponse", nil)),
	}})

	status := openapi3.NewSchemaRef("", openapi3.NewObjectSchema().WithProperty("status", openapi3.NewStringSchema()))
	for path, id := range map[string]string{"/healthz": "healthz", "/readyz": "readyz"} {
		doc.Paths.Set(path, &openapi3.PathItem{Get: &openapi3.Operation{
			Tags:        []string{tagSystem},
			Summary:     "Probe " + id,
			OperationID: id,
			Security:    &openapi3.SecurityRequirements{},
			Responses:   newResponses("200", "Healthy", status),
		}})
	}
}

func componentSchemas(columns []model.Column) openapi3.Schemas {
	integer := openapi3.NewInt64Schema()
	str := openapi3.NewStringSchema()

	return openapi3.Schemas{
		"KevRecord": columnsToSchema(columns),
		"ErrorResponse": openapi3.NewSchemaRef("", openapi3.NewObjectSchema().WithProperty("error",
			openapi3.NewObjectSchema().
				WithProperty("code", openapi3.NewInt32Schema()).
				WithProperty("message", str).
				WithProperty("context", openapi3.NewObjectSchema()))),
		"CountResponse": openapi3.NewSchemaRef("", openapi3.NewObjectSchema().WithProperty("count", integer)),
		"APIKeyResponse": openapi3.NewSchemaRef("", openapi3.NewObjectSchema().
			WithProperty("app_name", str).
			WithProperty("apiKey", str)),
		"RefreshResponse": openapi3.NewSchemaRef("", openapi3.NewObjectSchema().
			WithProperty("message", str).
			WithProperty("recordCount", openapi3.NewInt64Schema())),
	}
}

// columnsToSchema describes one catalog row. Every column is nullable since
// empty feed values are stored as NULL.
func columnsToSchema(columns []model.Column) *openapi3.SchemaRef {
	props := openapi3.Schemas{}
	for _, col := range columns {
		m := MapColumnType(col.Type)
		s := &openapi3.Schema{
			Type:     &openapi3.Types{m.Type},
			Format:   m.Format,
			Nullable: true,
		}
		props[col.Name] = &openapi3.SchemaRef{Value: s}
	}
	return &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type:       &openapi3.Types{"object"},
			Properties: props,
		},
	}
}

// newResponses builds the success response plus the shared error responses.
func newResponses(statusCode, description string, schema *openapi3.SchemaRef) *openapi3.Responses {
	responses := openapi3.NewResponses()
	responses.Set(statusCode, &openapi3.ResponseRef{
		Value: openapi3.NewResponse().
			WithDescription(description).
			WithContent(openapi3.NewContentWithJSONSchemaRef(schema)),
	})

	errRef := openapi3.NewSchemaRef(errorRef, nil)
	for code, desc := range map[string]string{
		"400": "Bad request",
		"401": "Missing or invalid API key or application name",
		"404": "Catalog not loaded",
		"500": "Internal server error",
	} {
		responses.Set(code, &openapi3.ResponseRef{
			Value: openapi3.NewResponse().
				WithDescription(desc).
				WithContent(openapi3.NewContentWithJSONSchemaRef(errRef)),
		})
	}
	return responses
}
