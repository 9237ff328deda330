// Package observability provides metrics and logging utilities.
package observability

import (
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys
const (
	attrMethod   = "method"
	attrPath     = "path"
	attrStatus   = "status"
	attrModelID  = "model_id"
	attrMethodID = "attack_method_id"
	attrFailed   = "failed"
	attrHost     = "host"
)

func methodAttr(method string) attribute.KeyValue {
	return attribute.String(attrMethod, method)
}

func pathAttr(path string) attribute.KeyValue {
	return attribute.String(attrPath, normalizePath(path))
}

func statusAttr(code int) attribute.KeyValue {
	// Group status codes to reduce cardinality
	// 200-299 -> 2xx, 400-499 -> 4xx, 500-599 -> 5xx
	group := fmt.Sprintf("%dxx", code/100)
	return attribute.String(attrStatus, group)
}

func modelAttr(modelID string) attribute.KeyValue {
	return attribute.String(attrModelID, modelID)
}

func attackMethodAttr(methodID string) attribute.KeyValue {
	return attribute.String(attrMethodID, methodID)
}

func failedAttr(failed bool) attribute.KeyValue {
	return attribute.Bool(attrFailed, failed)
}

func hostAttr(host string) attribute.KeyValue {
	return attribute.String(attrHost, host)
}

// normalizePath replaces dynamic path segments with placeholders so the
// path attribute stays low-cardinality.
// /v1/jobs/atk_123/status -> /v1/jobs/{jobId}/status
func normalizePath(path string) string {
	const prefix = "/v1/jobs/"
	if !strings.HasPrefix(path, prefix) || len(path) == len(prefix) {
		return path
	}
	rest := path[len(prefix):]
	if idx := strings.IndexByte(rest, '/'); idx >= 0 {
		return prefix + "{jobId}" + rest[idx:]
	}
	return prefix + "{jobId}"
}
