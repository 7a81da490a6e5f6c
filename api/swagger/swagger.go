package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Lumina Attendance API",
        "description": "QR proof-of-presence attendance with ledger verification",
        "version": "1.0.0"
    },
    "basePath": "/",
    "schemes": [
        "http"
    ],
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "security": [{"BearerAuth": []}],
    "tags": [
        {"name": "Sessions", "description": "Attendance windows opened by teachers"},
        {"name": "Attendance", "description": "QR redemption and manual attendance"},
        {"name": "Ledger", "description": "Ledger registration, connectivity and statistics"}
    ],
    "paths": {
        "/health": {
            "get": {
                "summary": "Health check",
                "security": [],
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/ready": {
            "get": {
                "summary": "Readiness check",
                "security": [],
                "responses": {
                    "200": {"description": "Ready"},
                    "503": {"description": "A dependency is unavailable"}
                }
            }
        },
        "/api/v1/lectures/{id}/sessions": {
            "post": {
                "tags": ["Sessions"],
                "summary": "Open an attendance session",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": false, "schema": {"$ref": "#/definitions/SessionDurationRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "403": {"description": "Not the lecture's teacher"},
                    "409": {"description": "SESSION_ACTIVE"}
                }
            },
            "get": {
                "tags": ["Sessions"],
                "summary": "List sessions of a lecture",
                "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/api/v1/lectures/{id}/sessions/active": {
            "get": {
                "tags": ["Sessions"],
                "summary": "Active session with QR payload",
                "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "NO_ACTIVE_SESSION"}
                }
            }
        },
        "/api/v1/sessions/{id}": {
            "patch": {
                "tags": ["Sessions"],
                "summary": "Extend an active session",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/SessionDurationRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "NO_ACTIVE_SESSION"}
                }
            }
        },
        "/api/v1/sessions/{id}/close": {
            "post": {
                "tags": ["Sessions"],
                "summary": "Close a session",
                "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/api/v1/attendance/redeem": {
            "post": {
                "tags": ["Attendance"],
                "summary": "Redeem a scanned QR code",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/RedeemRequest"}}
                ],
                "responses": {
                    "201": {"description": "Recorded", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "INVALID_TOKEN"},
                    "403": {"description": "NOT_ENROLLED"},
                    "404": {"description": "NO_ACTIVE_SESSION"},
                    "409": {"description": "ALREADY_RECORDED"},
                    "429": {"description": "RATE_LIMITED"}
                }
            }
        },
        "/api/v1/attendance/me": {
            "get": {
                "tags": ["Attendance"],
                "summary": "The caller's attendance records",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/api/v1/lectures/{id}/attendance": {
            "get": {
                "tags": ["Attendance"],
                "summary": "Attendance of a lecture",
                "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            },
            "put": {
                "tags": ["Attendance"],
                "summary": "Replace the recorded students of a lecture",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/SyncAttendanceRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "403": {"description": "NOT_ENROLLED, nothing changed"}
                }
            }
        },
        "/api/v1/lectures/{id}/attendance/manual": {
            "post": {
                "tags": ["Attendance"],
                "summary": "Record a student manually",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ManualAttendanceRequest"}}
                ],
                "responses": {"201": {"description": "Recorded", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/api/v1/lectures/{id}/ledger": {
            "post": {
                "tags": ["Ledger"],
                "summary": "Register a lecture on the ledger",
                "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "503": {"description": "LEDGER_UNAVAILABLE"}
                }
            }
        },
        "/api/v1/ledger/status": {
            "get": {
                "tags": ["Ledger"],
                "summary": "Ledger connectivity",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/api/v1/statistics/ledger": {
            "get": {
                "tags": ["Ledger"],
                "summary": "Ledger verification statistics",
                "parameters": [{"name": "include_status", "in": "query", "type": "boolean"}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        }
    },
    "definitions": {
        "SessionDurationRequest": {
            "type": "object",
            "properties": {"duration_minutes": {"type": "integer", "minimum": 1, "maximum": 120}}
        },
        "RedeemRequest": {
            "type": "object",
            "required": ["qr_data"],
            "properties": {"qr_data": {"type": "string"}}
        },
        "ManualAttendanceRequest": {
            "type": "object",
            "required": ["student_id"],
            "properties": {"student_id": {"type": "string"}}
        },
        "SyncAttendanceRequest": {
            "type": "object",
            "properties": {"student_ids": {"type": "array", "items": {"type": "string"}}}
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
                "meta": {"type": "object"}
            }
        }
    }
}`

type swaggerDoc struct{}

// ReadDoc returns the Swagger document.
func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}
