// Copyright 2026 © The Kaiba Authors
// SPDX-License-Identifier: Apache-2.0

package webhook

// DeliveryState is the retry-relevant part of a Delivery.
type DeliveryState struct {
	Status       DeliveryStatus
	Attempts     int
	StatusCode   *int
	ResponseBody *string
}

// AttemptOutcome is what one POST produced. StatusCode is nil on transport errors.
type AttemptOutcome struct {
	Success    bool
	StatusCode *int
	Body       *string
}

// Transition advances a delivery after one attempt.
//
// Every attempt increments Attempts. A successful attempt ends in StatusSuccess.
// A failed attempt ends in StatusFailed once maxRetries+1 attempts have been made
// and in StatusRetrying otherwise. Terminal states are returned unchanged.
// A negative maxRetries is treated as zero.
func Transition(s DeliveryState, o AttemptOutcome, maxRetries int) DeliveryState {
	if s.Status.Terminal() {
		return s
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	next := DeliveryState{
		Attempts:     s.Attempts + 1,
		StatusCode:   o.StatusCode,
		ResponseBody: o.Body,
	}
	switch {
	case o.Success:
		next.Status = StatusSuccess
	case next.Attempts > maxRetries:
		next.Status = StatusFailed
	default:
		next.Status = StatusRetrying
	}
	return next
}
