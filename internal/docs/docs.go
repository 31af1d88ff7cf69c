// Package docs holds the OpenAPI description of the visiond HTTP API and
// registers it with swag for the /swagger endpoint.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/predictions": {
            "post": {
                "description": "Streams the model's answer about an image as NDJSON lines, then a terminal status line.",
                "consumes": ["application/json"],
                "produces": ["application/x-ndjson"],
                "summary": "Run a prediction",
                "parameters": [
                    {
                        "description": "Prediction input",
                        "name": "body",
                        "in": "body",
                        "required": true,
                        "schema": {"$ref": "#/definitions/types.PredictionRequest"}
                    }
                ],
                "responses": {
                    "200": {"description": "NDJSON stream", "schema": {"$ref": "#/definitions/types.PredictionLine"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "502": {"description": "Backend unreachable", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "503": {"description": "Setup not complete", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/health-check": {
            "get": {
                "produces": ["application/json"],
                "summary": "Setup status and report",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.HealthCheck"}}
                }
            }
        },
        "/healthz": {
            "get": {"summary": "Liveness", "responses": {"200": {"description": "ok"}}}
        },
        "/readyz": {
            "get": {
                "summary": "Readiness",
                "responses": {"200": {"description": "ready"}, "503": {"description": "loading"}}
            }
        }
    },
    "definitions": {
        "types.PredictionRequest": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "input": {"$ref": "#/definitions/types.PredictionInput"}
            }
        },
        "types.PredictionInput": {
            "type": "object",
            "properties": {
                "image": {"type": "string", "description": "base64 or data URI"},
                "prompt": {"type": "string", "example": "Describe this image."},
                "temperature": {"type": "number", "example": 0.7},
                "top_p": {"type": "number", "example": 0.95},
                "max_tokens": {"type": "integer", "example": 512}
            }
        },
        "types.PredictionLine": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "output": {"type": "string"},
                "status": {"type": "string", "example": "succeeded"},
                "error": {"type": "string"}
            }
        },
        "types.HealthCheck": {
            "type": "object",
            "properties": {
                "status": {"type": "string", "example": "READY"},
                "setup": {"$ref": "#/definitions/types.SetupResult"}
            }
        },
        "types.SetupResult": {
            "type": "object",
            "properties": {
                "started_at": {"type": "string"},
                "completed_at": {"type": "string"},
                "status": {"type": "string"},
                "phase": {"type": "string"},
                "logs": {"type": "string"}
            }
        },
        "types.ErrorResponse": {
            "type": "object",
            "properties": {
                "error": {"type": "string", "example": "invalid JSON body"},
                "code": {"type": "integer", "example": 400}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{"http"},
	Title:            "visiond API",
	Description:      "Cog-style prediction API in front of a supervised ollama vision backend.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
