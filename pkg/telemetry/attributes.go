// Copyright 2026 © The Kaiba Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Span and metric attribute keys.
const (
	AttrReiID   = "kaiba.rei.id"
	AttrReiName = "kaiba.rei.name"

	AttrDecisionAction   = "kaiba.decision.action"
	AttrDecisionReason   = "kaiba.decision.reason"
	AttrEnergyLevel      = "kaiba.state.energy_level"
	AttrTokensRemaining  = "kaiba.state.tokens_remaining"
	AttrMemoriesToDigest = "kaiba.memory.since_digest"

	AttrWebhookID      = "kaiba.webhook.id"
	AttrEventType      = "kaiba.event.type"
	AttrDeliveryID     = "kaiba.delivery.id"
	AttrDeliveryStatus = "kaiba.delivery.status"
	AttrAttempts       = "kaiba.delivery.attempts"

	AttrComponent = "component"
	AttrErrorCode = "error.code"

	// gen_ai semantic conventions
	AttrLLMModel        = "gen_ai.request.model"
	AttrLLMProvider     = "gen_ai.system"
	AttrLLMTokensInput  = "gen_ai.usage.input_tokens"
	AttrLLMTokensOutput = "gen_ai.usage.output_tokens"
)

// ReiAttributes identify the Rei a span works on.
func ReiAttributes(id, name string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{attribute.String(AttrReiID, id)}
	if name != "" {
		attrs = append(attrs, attribute.String(AttrReiName, name))
	}
	return attrs
}

// DecisionAttributes describe a decision and the inputs it was made on.
func DecisionAttributes(action, reason string, energy, tokensRemaining, memories int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrDecisionAction, action),
		attribute.String(AttrDecisionReason, reason),
		attribute.Int(AttrEnergyLevel, energy),
		attribute.Int(AttrTokensRemaining, tokensRemaining),
		attribute.Int(AttrMemoriesToDigest, memories),
	}
}

// DeliveryAttributes describe a webhook delivery.
func DeliveryAttributes(webhookID, deliveryID, event, status string, attempts int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrWebhookID, webhookID),
		attribute.String(AttrEventType, event),
	}
	if deliveryID != "" {
		attrs = append(attrs, attribute.String(AttrDeliveryID, deliveryID))
	}
	if status != "" {
		attrs = append(attrs, attribute.String(AttrDeliveryStatus, status))
	}
	if attempts > 0 {
		attrs = append(attrs, attribute.Int(AttrAttempts, attempts))
	}
	return attrs
}

// LLMAttributes describe a model call. Zero token counts are omitted.
func LLMAttributes(provider, model string, inputTokens, outputTokens int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrLLMProvider, provider),
		attribute.String(AttrLLMModel, model),
	}
	if inputTokens > 0 {
		attrs = append(attrs, attribute.Int(AttrLLMTokensInput, inputTokens))
	}
	if outputTokens > 0 {
		attrs = append(attrs, attribute.Int(AttrLLMTokensOutput, outputTokens))
	}
	return attrs
}
