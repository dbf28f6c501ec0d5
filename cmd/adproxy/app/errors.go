// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package app

import "errors"

// The error taxonomy below mirrors spec.md §7: each kind maps to exactly one
// HTTP/telemetry policy, decided once in handler_manifest.go rather than
// re-derived ad hoc at each call site.
var (
	errInvalidInput       = errors.New("invalid input")
	errAuthFailure        = errors.New("auth failure")
	errOriginUnavailable  = errors.New("origin unavailable")
	errSkipPlanInfeasible = errors.New("skip plan infeasible")
	errInternalInvariant  = errors.New("internal invariant violation")
)

// fallbackReason records why a rewrite fell back to a degraded path; it is
// the label value of the ad_fallback_total counter (spec.md §7 "record
// fallback reason").
type fallbackReason string

const (
	reasonNone              fallbackReason = ""
	reasonDecisionUnavail   fallbackReason = "decision_unavailable"
	reasonSlateUnavailable  fallbackReason = "slate_unavailable"
	reasonSkipPlanFailed    fallbackReason = "skip_plan_infeasible"
	reasonOriginUnavailable fallbackReason = "origin_unavailable"
)
