// Package docs registers the OpenAPI description of the admin API with swag
// so gin-swagger can serve it. Keep it in step with the godoc annotations in
// internal/http/handlers.
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
    "securityDefinitions": {
        "AdminKey": {"type": "apiKey", "in": "header", "name": "X-Admin-Key"}
    },
    "security": [{"AdminKey": []}],
    "paths": {
        "/stats": {
            "get": {
                "operationId": "getStats",
                "tags": ["Admin"],
                "summary": "Bot statistics",
                "produces": ["application/json"],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.StatsResponse"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/users": {
            "get": {
                "operationId": "listUsers",
                "tags": ["Admin"],
                "summary": "List registered users (paginated)",
                "produces": ["application/json"],
                "parameters": [
                    {"name": "page", "in": "query", "type": "integer", "minimum": 1, "default": 1},
                    {"name": "page_size", "in": "query", "type": "integer", "minimum": 1, "maximum": 500, "default": 50},
                    {"name": "If-None-Match", "in": "header", "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.ListUsersResponse"}},
                    "304": {"description": "Not Modified"},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/users/export": {
            "get": {
                "operationId": "exportUsers",
                "tags": ["Admin"],
                "summary": "Export user ids",
                "produces": ["text/plain"],
                "responses": {
                    "200": {"description": "one id per line", "schema": {"type": "string"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/broadcast": {
            "post": {
                "operationId": "broadcast",
                "tags": ["Admin"],
                "summary": "Broadcast a message to every user",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "parameters": [
                    {"name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.BroadcastRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/services.BroadcastResult"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "403": {"description": "ADMIN_ID not configured", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "500": {"description": "Internal Server Error", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        }
    },
    "definitions": {
        "handlers.ErrorResponse": {
            "type": "object",
            "properties": {
                "request_id": {"type": "string"},
                "code": {"type": "string", "example": "bad_request"},
                "message": {"type": "string"}
            }
        },
        "handlers.StatsResponse": {
            "type": "object",
            "properties": {
                "registered_users": {"type": "integer"},
                "delivered": {"type": "integer"},
                "queue_depth": {"type": "integer"}
            }
        },
        "handlers.UserView": {
            "type": "object",
            "properties": {
                "id": {"type": "integer", "format": "int64"},
                "handle": {"type": "string", "example": "@someone"},
                "joined_at": {"type": "string", "format": "date-time"}
            }
        },
        "handlers.ListUsersResponse": {
            "type": "object",
            "properties": {
                "users": {"type": "array", "items": {"$ref": "#/definitions/handlers.UserView"}},
                "pagination": {"$ref": "#/definitions/utils.Page"}
            }
        },
        "handlers.BroadcastRequest": {
            "type": "object",
            "required": ["message"],
            "properties": {"message": {"type": "string"}}
        },
        "services.BroadcastResult": {
            "type": "object",
            "properties": {
                "sent": {"type": "integer"},
                "failed": {"type": "integer"},
                "removed": {"type": "integer"}
            }
        },
        "utils.Page": {
            "type": "object",
            "properties": {
                "page": {"type": "integer"},
                "page_size": {"type": "integer"},
                "total": {"type": "integer"},
                "total_pages": {"type": "integer"},
                "has_next": {"type": "boolean"}
            }
        }
    }
}`

// SwaggerInfo holds the exported metadata; the router sets BasePath from
// configuration before serving.
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/api/v1",
	Schemes:          []string{},
	Title:            "Instagram relay bot admin API",
	Description:      "Statistics, user directory and broadcast for the relay bot.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
