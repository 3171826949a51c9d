// Package observability provides metrics and attribute helpers.
package observability

import (
	"fmt"

	"go.opentelemetry.io/otel/attribute"
)

// Subscription outcomes
const (
	OutcomeCompleted = "completed"
	OutcomeCancelled = "cancelled"
	OutcomeFailed    = "failed"
)

// Attribute keys
const (
	attrOp          = "op"
	attrMethod      = "method"
	attrStatus      = "status"
	attrEndpoint    = "endpoint"
	attrOutcome     = "outcome"
	attrQueueStatus = "queue_status"
)

func opAttr(op string) attribute.KeyValue {
	return attribute.String(attrOp, op)
}

func methodAttr(method string) attribute.KeyValue {
	return attribute.String(attrMethod, method)
}

func statusAttr(code int) attribute.KeyValue {
	// 200-299 -> 2xx, 400-499 -> 4xx; no response -> none
	if code <= 0 {
		return attribute.String(attrStatus, "none")
	}
	return attribute.String(attrStatus, fmt.Sprintf("%dxx", code/100))
}

func endpointAttr(endpoint string) attribute.KeyValue {
	return attribute.String(attrEndpoint, endpoint)
}

func outcomeAttr(outcome string) attribute.KeyValue {
	return attribute.String(attrOutcome, outcome)
}

func queueStatusAttr(status string) attribute.KeyValue {
	return attribute.String(attrQueueStatus, status)
}
