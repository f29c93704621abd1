package handlers

import (
	"net/http"

	"climate-explorer/internal/pipeline"
)

func param(name, in, description, typ string, required bool) map[string]interface{} {
	return map[string]interface{}{
		"name":        name,
		"in":          in,
		"description": description,
		"required":    required,
		"schema":      map[string]string{"type": typ},
	}
}

func jsonResponse(description string, schema interface{}) map[string]interface{} {
	return map[string]interface{}{
		"description": description,
		"content": map[string]interface{}{
			"application/json": map[string]interface{}{"schema": schema},
		},
	}
}

func ref(name string) map[string]string {
	return map[string]string{"$ref": "#/components/schemas/" + name}
}

var (
	sessionIDParam = param("id", "path", "Session ID", "string", true)
	errorResponses = map[string]interface{}{
		"400": jsonResponse("Invalid request or dataset", ref("Error")),
		"404": jsonResponse("Unknown session or dataset", ref("Error")),
		"409": jsonResponse("Session has no dataset loaded", ref("Error")),
		"422": jsonResponse("Variable unavailable or nothing left after filtering", ref("Error")),
	}
)

func withErrors(ok map[string]interface{}) map[string]interface{} {
	out := map[string]interface{}{"200": ok}
	for code, resp := range errorResponses {
		out[code] = resp
	}
	return out
}

// OpenAPISpec returns the OpenAPI 3.0 specification for the Climate Explorer API
func OpenAPISpec(w http.ResponseWriter, r *http.Request) {
	kinds := make([]string, 0, len(pipeline.Kinds()))
	for _, k := range pipeline.Kinds() {
		kinds = append(kinds, string(k))
	}

	spec := map[string]interface{}{
		"openapi": "3.0.0",
		"info": map[string]interface{}{
			"title":       "Climate Explorer API",
			"description": "Interactive exploration of hourly annual weather datasets: filtering, aggregation, unit conversion and AI summaries",
			"version":     "1.0.0",
		},
		"servers": []map[string]string{
			{"url": "http://localhost:8080", "description": "Local development server"},
		},
		"paths": map[string]interface{}{
			"/api/variables": map[string]interface{}{
				"get": map[string]interface{}{
					"summary": "List catalog variables",
					"parameters": []map[string]interface{}{
						param("units", "query", "metric or imperial", "string", false),
						param("session", "query", "Report availability against this session's dataset", "string", false),
					},
					"responses": withErrors(jsonResponse("Variables", map[string]interface{}{
						"type": "array", "items": ref("Variable"),
					})),
				},
			},
			"/api/datasets": map[string]interface{}{
				"get": map[string]interface{}{
					"summary": "List persisted datasets",
					"parameters": []map[string]interface{}{
						param("page", "query", "Page number (default: 1)", "integer", false),
						param("limit", "query", "Records per page (default: 50)", "integer", false),
					},
					"responses": map[string]interface{}{
						"200": jsonResponse("Datasets", map[string]interface{}{"type": "object"}),
						"503": jsonResponse("Persistence disabled", ref("Error")),
					},
				},
			},
			"/api/datasets/{id}": map[string]interface{}{
				"get": map[string]interface{}{
					"summary":    "Get a persisted dataset header",
					"parameters": []map[string]interface{}{param("id", "path", "Dataset ID", "string", true)},
					"responses":  withErrors(jsonResponse("Dataset", ref("DatasetInfo"))),
				},
				"delete": map[string]interface{}{
					"summary":    "Delete a persisted dataset",
					"parameters": []map[string]interface{}{param("id", "path", "Dataset ID", "string", true)},
					"responses":  map[string]interface{}{"204": map[string]string{"description": "Deleted"}},
				},
			},
			"/api/sessions": map[string]interface{}{
				"post": map[string]interface{}{
					"summary": "Create an explorer session, optionally preloaded with a persisted dataset",
					"requestBody": map[string]interface{}{
						"required": false,
						"content": map[string]interface{}{
							"application/json": map[string]interface{}{"schema": map[string]interface{}{
								"type":       "object",
								"properties": map[string]interface{}{"dataset_id": map[string]string{"type": "string"}},
							}},
						},
					},
					"responses": map[string]interface{}{
						"201": jsonResponse("Session created", ref("Session")),
						"503": jsonResponse("Session limit reached", ref("Error")),
					},
				},
			},
			"/api/sessions/{id}": map[string]interface{}{
				"get": map[string]interface{}{
					"summary":    "Get a session",
					"parameters": []map[string]interface{}{sessionIDParam},
					"responses":  withErrors(jsonResponse("Session", ref("Session"))),
				},
				"delete": map[string]interface{}{
					"summary":    "End a session",
					"parameters": []map[string]interface{}{sessionIDParam},
					"responses":  map[string]interface{}{"204": map[string]string{"description": "Deleted"}},
				},
			},
			"/api/sessions/{id}/dataset": map[string]interface{}{
				"put": map[string]interface{}{
					"summary": "Upload a CSV dataset, replacing the session's current one",
					"parameters": []map[string]interface{}{
						sessionIDParam,
						param("name", "query", "Dataset name", "string", false),
						param("city", "query", "City", "string", false),
						param("country", "query", "Country", "string", false),
						param("latitude", "query", "Latitude", "number", false),
						param("longitude", "query", "Longitude", "number", false),
						param("time_zone", "query", "UTC offset in hours", "number", false),
						param("persist", "query", "Store the dataset in PostgreSQL", "boolean", false),
					},
					"requestBody": map[string]interface{}{
						"required": true,
						"content": map[string]interface{}{
							"text/csv": map[string]interface{}{"schema": map[string]string{"type": "string"}},
						},
					},
					"responses": withErrors(jsonResponse("Session with new dataset", ref("Session"))),
				},
			},
			"/api/sessions/{id}/dataset/{datasetID}": map[string]interface{}{
				"post": map[string]interface{}{
					"summary": "Load a persisted dataset into the session",
					"parameters": []map[string]interface{}{
						sessionIDParam,
						param("datasetID", "path", "Dataset ID", "string", true),
					},
					"responses": withErrors(jsonResponse("Session with new dataset", ref("Session"))),
				},
			},
			"/api/sessions/{id}/aggregate": map[string]interface{}{
				"post": map[string]interface{}{
					"summary":    "Run one aggregation against the session's dataset",
					"parameters": []map[string]interface{}{sessionIDParam},
					"requestBody": map[string]interface{}{
						"required": true,
						"content": map[string]interface{}{
							"application/json": map[string]interface{}{"schema": ref("WidgetState")},
						},
					},
					"responses": withErrors(jsonResponse("Aggregation result", ref("Result"))),
				},
			},
			"/api/sessions/{id}/overview": map[string]interface{}{
				"get": map[string]interface{}{
					"summary": "Yearly profile, daily profile and heatmap of one variable",
					"parameters": []map[string]interface{}{
						sessionIDParam,
						param("variable", "query", "Variable key (default: DBT)", "string", false),
						param("units", "query", "metric or imperial", "string", false),
					},
					"responses": withErrors(jsonResponse("Overview", map[string]interface{}{"type": "object"})),
				},
			},
			"/api/sessions/{id}/summary": map[string]interface{}{
				"post": map[string]interface{}{
					"summary":    "AI narrative of a variable's monthly summary",
					"parameters": []map[string]interface{}{sessionIDParam},
					"requestBody": map[string]interface{}{
						"required": true,
						"content": map[string]interface{}{
							"application/json": map[string]interface{}{"schema": ref("WidgetState")},
						},
					},
					"responses": map[string]interface{}{
						"200": jsonResponse("Summary", map[string]interface{}{"type": "object"}),
						"502": jsonResponse("Summary endpoint failed", ref("Error")),
						"503": jsonResponse("Summary disabled or unavailable", ref("Error")),
					},
				},
			},
			"/health": map[string]interface{}{
				"get": map[string]interface{}{
					"summary":   "Health check",
					"responses": map[string]interface{}{"200": jsonResponse("API is healthy", map[string]interface{}{"type": "object"})},
				},
			},
			"/metrics": map[string]interface{}{
				"get": map[string]interface{}{
					"summary": "Prometheus metrics",
					"responses": map[string]interface{}{
						"200": map[string]interface{}{
							"description": "Prometheus metrics in text format",
							"content": map[string]interface{}{
								"text/plain": map[string]interface{}{"schema": map[string]string{"type": "string"}},
							},
						},
					},
				},
			},
		},
		"components": map[string]interface{}{
			"schemas": map[string]interface{}{
				"Error": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"error":      map[string]string{"type": "string"},
						"message":    map[string]string{"type": "string"},
						"code":       map[string]string{"type": "integer"},
						"reason":     map[string]string{"type": "string"},
						"field":      map[string]string{"type": "string"},
						"request_id": map[string]string{"type": "string"},
					},
				},
				"Variable": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"key":       map[string]string{"type": "string"},
						"name":      map[string]string{"type": "string"},
						"unit":      map[string]string{"type": "string"},
						"range":     map[string]interface{}{"type": "array", "items": map[string]string{"type": "number"}},
						"available": map[string]string{"type": "boolean"},
					},
				},
				"DatasetInfo": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"id":         map[string]string{"type": "string"},
						"name":       map[string]string{"type": "string"},
						"location":   map[string]string{"type": "object"},
						"row_count":  map[string]string{"type": "integer"},
						"columns":    map[string]interface{}{"type": "array", "items": map[string]string{"type": "string"}},
						"created_at": map[string]string{"type": "string", "format": "date-time"},
					},
				},
				"Session": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"id":         map[string]string{"type": "string"},
						"created_at": map[string]string{"type": "string", "format": "date-time"},
						"dataset":    map[string]interface{}{"nullable": true, "allOf": []interface{}{ref("DatasetInfo")}},
					},
				},
				"Range": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"from": map[string]interface{}{"type": "integer", "nullable": true},
						"to":   map[string]interface{}{"type": "integer", "nullable": true},
					},
				},
				"WidgetState": map[string]interface{}{
					"type":     "object",
					"required": []string{"variable", "kind"},
					"properties": map[string]interface{}{
						"variable":          map[string]string{"type": "string"},
						"kind":              map[string]interface{}{"type": "string", "enum": kinds},
						"units":             map[string]interface{}{"type": "string", "enum": []string{"metric", "imperial"}},
						"apply_time_filter": map[string]string{"type": "boolean"},
						"months":            ref("Range"),
						"hours":             ref("Range"),
						"apply_data_filter": map[string]string{"type": "boolean"},
						"filter_variable":   map[string]string{"type": "string"},
						"filter_min":        map[string]interface{}{"type": "number", "nullable": true},
						"filter_max":        map[string]interface{}{"type": "number", "nullable": true},
						"band":              map[string]string{"type": "object"},
						"axis":              map[string]interface{}{"type": "string", "enum": []string{"day", "month"}},
						"bins":              map[string]string{"type": "integer"},
						"bin_range":         map[string]interface{}{"type": "array", "items": map[string]string{"type": "number"}},
						"normalize":         map[string]string{"type": "boolean"},
						"by_month":          map[string]string{"type": "boolean"},
						"y_variable":        map[string]string{"type": "string"},
						"color_variable":    map[string]string{"type": "string"},
					},
				},
				"Result": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"kind":         map[string]interface{}{"type": "string", "enum": kinds},
						"variable":     map[string]string{"type": "string"},
						"display_name": map[string]string{"type": "string"},
						"unit":         map[string]string{"type": "string"},
						"units":        map[string]string{"type": "string"},
						"rows":         map[string]string{"type": "integer"},
					},
				},
			},
		},
	}

	sendJSON(w, spec, http.StatusOK)
}
