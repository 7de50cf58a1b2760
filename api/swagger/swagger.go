package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "SMA EWS API",
        "description": "Attendance early-warning system: fingerprint import, identity mapping, daily facts and dropout risk scoring",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http"
    ],
    "securityDefinitions": {
        "BearerAuth": {
            "type": "apiKey",
            "name": "Authorization",
            "in": "header"
        }
    },
    "tags": [
        {"name": "Devices", "description": "Fingerprint machine registry and user sync"},
        {"name": "Batches", "description": "Raw scan event import batches"},
        {"name": "Mappings", "description": "Device identity to student resolution"},
        {"name": "Attendance", "description": "Daily attendance facts"},
        {"name": "Risk", "description": "Dropout risk predictions"},
        {"name": "ML", "description": "Model training and inspection"}
    ],
    "paths": {
        "/devices": {
            "get": {
                "tags": ["Devices"],
                "summary": "List registered devices",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/devices/{id}/users": {
            "get": {
                "tags": ["Devices"],
                "summary": "List users known by a device",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "department", "in": "query", "type": "string"},
                    {"name": "unmapped", "in": "query", "type": "boolean"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "limit", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/devices/{id}/users/sync": {
            "post": {
                "tags": ["Devices"],
                "summary": "Sync parsed device users",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string", "description": "Device code"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/DeviceUserSyncRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/events/batches": {
            "get": {
                "tags": ["Batches"],
                "summary": "List import batches",
                "parameters": [
                    {"name": "kind", "in": "query", "type": "string", "enum": ["users", "logs"]},
                    {"name": "status", "in": "query", "type": "string"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "limit", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Batches"],
                "summary": "Ingest parsed scan events as a new batch",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/IngestBatchRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/events/batches/{id}": {
            "get": {
                "tags": ["Batches"],
                "summary": "Get one batch with its event count",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "delete": {
                "tags": ["Batches"],
                "summary": "Roll back a batch and delete its events",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/mappings/auto": {
            "post": {
                "tags": ["Mappings"],
                "summary": "Run the fuzzy auto-matcher over unmapped device users",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "payload", "in": "body", "required": false, "schema": {"$ref": "#/definitions/AutoMapRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/mappings/unmapped": {
            "get": {
                "tags": ["Mappings"],
                "summary": "List unmapped device users with match suggestions",
                "parameters": [
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "limit", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/mappings/suggestions": {
            "get": {
                "tags": ["Mappings"],
                "summary": "List pending mappings awaiting verification",
                "parameters": [
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "limit", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/mappings/stats": {
            "get": {
                "tags": ["Mappings"],
                "summary": "Mapping pipeline counters",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/mappings/bulk-verify": {
            "post": {
                "tags": ["Mappings"],
                "summary": "Verify or reject many mappings in one call",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/BulkVerifyRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/mappings/{id}/verify": {
            "post": {
                "tags": ["Mappings"],
                "summary": "Verify or reject one mapping",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/VerifyMappingRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/mappings/{id}": {
            "delete": {
                "tags": ["Mappings"],
                "summary": "Delete one mapping",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "204": {"description": "No Content"}
                }
            }
        },
        "/attendance/process": {
            "post": {
                "tags": ["Attendance"],
                "summary": "Aggregate one import batch into daily facts",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ProcessBatchRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/attendance/manual": {
            "post": {
                "tags": ["Attendance"],
                "summary": "Record or override one fact by hand",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ManualAttendanceRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/attendance/daily": {
            "get": {
                "tags": ["Attendance"],
                "summary": "List daily facts",
                "parameters": [
                    {"name": "nis", "in": "query", "type": "string"},
                    {"name": "classId", "in": "query", "type": "string"},
                    {"name": "status", "in": "query", "type": "string", "enum": ["Present", "Late", "Absent", "Sick", "Permission"]},
                    {"name": "from", "in": "query", "type": "string", "format": "date"},
                    {"name": "to", "in": "query", "type": "string", "format": "date"},
                    {"name": "manual", "in": "query", "type": "boolean"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "limit", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/attendance/students/{nis}": {
            "get": {
                "tags": ["Attendance"],
                "summary": "Attendance history with summary and absence patterns",
                "parameters": [
                    {"name": "nis", "in": "path", "required": true, "type": "string"},
                    {"name": "from", "in": "query", "type": "string", "format": "date"},
                    {"name": "to", "in": "query", "type": "string", "format": "date"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/attendance/orphans": {
            "get": {
                "tags": ["Attendance"],
                "summary": "Report events no verified mapping can claim",
                "parameters": [
                    {"name": "batch_id", "in": "query", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/risk/students/{nis}": {
            "get": {
                "tags": ["Risk"],
                "summary": "Predict dropout risk for one student",
                "parameters": [
                    {"name": "nis", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/risk/students/{nis}/history": {
            "get": {
                "tags": ["Risk"],
                "summary": "List a student's assessment history",
                "parameters": [
                    {"name": "nis", "in": "path", "required": true, "type": "string"},
                    {"name": "limit", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/risk/predict-batch": {
            "post": {
                "tags": ["Risk"],
                "summary": "Predict risk for an explicit roster",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/BatchPredictRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/risk/recalculate": {
            "post": {
                "tags": ["Risk"],
                "summary": "Queue a background recalculation sweep",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "payload", "in": "body", "required": false, "schema": {"$ref": "#/definitions/RecalculateRequest"}}
                ],
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/ml/train": {
            "post": {
                "tags": ["ML"],
                "summary": "Train a new model artifact and swap it in",
                "security": [{"BearerAuth": []}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "422": {"description": "Not enough training data", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/ml/model": {
            "get": {
                "tags": ["ML"],
                "summary": "Describe the active model artifact",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "No model trained yet", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        }
    },
    "definitions": {
        "Device": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "code": {"type": "string"},
                "location": {"type": "string"},
                "last_synced_at": {"type": "string"},
                "created_at": {"type": "string"},
                "updated_at": {"type": "string"}
            }
        },
        "DeviceUser": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "device_id": {"type": "string"},
                "device_user_id": {"type": "string"},
                "display_name": {"type": "string"},
                "department": {"type": "string"},
                "created_at": {"type": "string"},
                "updated_at": {"type": "string"}
            }
        },
        "DeviceUserRow": {
            "type": "object",
            "properties": {
                "device_user_id": {"type": "string"},
                "display_name": {"type": "string"},
                "department": {"type": "string"}
            },
            "required": ["device_user_id", "display_name"]
        },
        "DeviceUserSyncRequest": {
            "type": "object",
            "properties": {
                "source_file": {"type": "string"},
                "rows": {
                    "type": "array",
                    "items": {"$ref": "#/definitions/DeviceUserRow"}
                }
            },
            "required": ["rows"]
        },
        "DeviceUserSyncResult": {
            "type": "object",
            "properties": {
                "batch_id": {"type": "string"},
                "device_code": {"type": "string"},
                "created": {"type": "integer"},
                "updated": {"type": "integer"},
                "students": {"type": "integer"},
                "others": {"type": "integer"},
                "rejected": {"type": "integer"},
                "errors": {"type": "array", "items": {"type": "string"}}
            }
        },
        "ImportBatch": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "source_file": {"type": "string"},
                "kind": {"type": "string", "enum": ["users", "logs"]},
                "status": {"type": "string", "enum": ["processing", "completed", "completed_with_errors", "failed", "rolled_back"]},
                "records": {"type": "integer"},
                "error_log": {"type": "array", "items": {"type": "string"}},
                "created_at": {"type": "string"},
                "updated_at": {"type": "string"}
            }
        },
        "ScanEventRow": {
            "type": "object",
            "properties": {
                "device_user_id": {"type": "string"},
                "event_time": {"type": "string", "format": "date-time"}
            },
            "required": ["device_user_id", "event_time"]
        },
        "IngestBatchRequest": {
            "type": "object",
            "properties": {
                "source_file": {"type": "string"},
                "device_code": {"type": "string"},
                "rows": {
                    "type": "array",
                    "items": {"$ref": "#/definitions/ScanEventRow"}
                }
            },
            "required": ["source_file", "device_code", "rows"]
        },
        "IngestBatchResult": {
            "type": "object",
            "properties": {
                "batch_id": {"type": "string"},
                "status": {"type": "string"},
                "inserted": {"type": "integer"},
                "rejected": {"type": "integer"},
                "errors": {"type": "array", "items": {"type": "string"}}
            }
        },
        "RollbackResult": {
            "type": "object",
            "properties": {
                "batch_id": {"type": "string"},
                "events_deleted": {"type": "integer"}
            }
        },
        "IdentityMapping": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "device_user_id": {"type": "string"},
                "student_nis": {"type": "string"},
                "similarity": {"type": "integer"},
                "status": {"type": "string", "enum": ["pending", "verified", "rejected"]},
                "verified_by": {"type": "string"},
                "verified_at": {"type": "string"},
                "created_at": {"type": "string"},
                "updated_at": {"type": "string"}
            }
        },
        "MappingSuggestion": {
            "type": "object",
            "properties": {
                "student_nis": {"type": "string"},
                "student_name": {"type": "string"},
                "score": {"type": "integer"}
            }
        },
        "AutoMapRequest": {
            "type": "object",
            "properties": {
                "threshold": {"type": "integer", "minimum": 1, "maximum": 100}
            }
        },
        "AutoMapResult": {
            "type": "object",
            "properties": {
                "threshold": {"type": "integer"},
                "candidates": {"type": "integer"},
                "created": {"type": "integer"},
                "skipped": {"type": "integer"},
                "unmatched": {"type": "integer"}
            }
        },
        "VerifyMappingRequest": {
            "type": "object",
            "properties": {
                "status": {"type": "string", "enum": ["verified", "rejected"]}
            },
            "required": ["status"]
        },
        "BulkVerifyRequest": {
            "type": "object",
            "properties": {
                "items": {
                    "type": "array",
                    "items": {
                        "type": "object",
                        "properties": {
                            "mapping_id": {"type": "string"},
                            "status": {"type": "string", "enum": ["verified", "rejected"]}
                        }
                    }
                }
            },
            "required": ["items"]
        },
        "MappingStats": {
            "type": "object",
            "properties": {
                "pending": {"type": "integer"},
                "verified": {"type": "integer"},
                "rejected": {"type": "integer"},
                "unmapped": {"type": "integer"}
            }
        },
        "ProcessBatchRequest": {
            "type": "object",
            "properties": {
                "batch_id": {"type": "string"},
                "force": {"type": "boolean"}
            },
            "required": ["batch_id"]
        },
        "ProcessBatchResult": {
            "type": "object",
            "properties": {
                "batch_id": {"type": "string"},
                "facts_upserted": {"type": "integer"},
                "absent_inserted": {"type": "integer"},
                "orphaned_events": {"type": "integer"},
                "skipped_manual": {"type": "integer"}
            }
        },
        "ManualAttendanceRequest": {
            "type": "object",
            "properties": {
                "student_nis": {"type": "string"},
                "date": {"type": "string", "format": "date-time"},
                "status": {"type": "string", "enum": ["Present", "Late", "Absent", "Sick", "Permission"]},
                "notes": {"type": "string"}
            },
            "required": ["student_nis", "date", "status"]
        },
        "DailyAttendanceFact": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "student_nis": {"type": "string"},
                "date": {"type": "string"},
                "check_in": {"type": "string"},
                "check_out": {"type": "string"},
                "status": {"type": "string", "enum": ["Present", "Late", "Absent", "Sick", "Permission"]},
                "notes": {"type": "string"},
                "recorded_by": {"type": "string"},
                "manual": {"type": "boolean"},
                "created_at": {"type": "string"},
                "updated_at": {"type": "string"}
            }
        },
        "OrphanedEventReport": {
            "type": "object",
            "properties": {
                "total": {"type": "integer"},
                "groups": {
                    "type": "array",
                    "items": {
                        "type": "object",
                        "properties": {
                            "device_user_id": {"type": "string"},
                            "display_name": {"type": "string"},
                            "device_code": {"type": "string"},
                            "events": {"type": "integer"}
                        }
                    }
                }
            }
        },
        "RiskPrediction": {
            "type": "object",
            "properties": {
                "student_nis": {"type": "string"},
                "student_name": {"type": "string"},
                "tier": {"type": "string", "enum": ["RED", "YELLOW", "GREEN"]},
                "tier_description": {"type": "string"},
                "probability": {"type": "number"},
                "method": {"type": "string", "enum": ["rule", "ml", "heuristic"]},
                "rule_reason": {"type": "string"},
                "factors": {"type": "object"},
                "explanation": {"type": "string"},
                "recommendations": {"type": "array", "items": {"type": "string"}},
                "features": {"type": "object"},
                "assessed_at": {"type": "string"}
            }
        },
        "BatchPredictRequest": {
            "type": "object",
            "properties": {
                "student_nis": {"type": "array", "items": {"type": "string"}}
            },
            "required": ["student_nis"]
        },
        "RecalculateRequest": {
            "type": "object",
            "properties": {
                "class_id": {"type": "string"}
            }
        },
        "RecalculateAck": {
            "type": "object",
            "properties": {
                "students": {"type": "integer"},
                "queued": {"type": "boolean"}
            }
        },
        "TrainingMetrics": {
            "type": "object",
            "properties": {
                "recall": {"type": "number"},
                "precision": {"type": "number"},
                "f1": {"type": "number"},
                "auc": {"type": "number"}
            }
        },
        "TrainResult": {
            "type": "object",
            "properties": {
                "version": {"type": "integer"},
                "threshold": {"type": "number"},
                "metrics": {"$ref": "#/definitions/TrainingMetrics"},
                "train_samples": {"type": "integer"},
                "test_samples": {"type": "integer"},
                "trained_at": {"type": "string"}
            }
        },
        "ModelInfo": {
            "type": "object",
            "properties": {
                "version": {"type": "integer"},
                "threshold": {"type": "number"},
                "metrics": {"$ref": "#/definitions/TrainingMetrics"},
                "feature_names": {"type": "array", "items": {"type": "string"}},
                "importance": {
                    "type": "array",
                    "items": {
                        "type": "object",
                        "properties": {
                            "feature": {"type": "string"},
                            "weight": {"type": "number"}
                        }
                    }
                },
                "train_samples": {"type": "integer"},
                "test_samples": {"type": "integer"},
                "trained_at": {"type": "string"}
            }
        },
        "Pagination": {
            "type": "object",
            "properties": {
                "page": {"type": "integer"},
                "page_size": {"type": "integer"},
                "total_count": {"type": "integer"}
            }
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
                "pagination": {"$ref": "#/definitions/Pagination"},
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
