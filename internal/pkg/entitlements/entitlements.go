package entitlements

import (
	"strings"

	"github.com/ManuelReschke/PixelConvert/internal/pkg/env"
)

type Plan string

const (
	PlanFree Plan = "free"
	PlanPro  Plan = "pro"
)

const (
	freeMaxEdge        = 2048
	proMaxEdge         = 8192
	freeMaxUploadBytes = 10 << 20
	defaultProUploadMB = 50
)

// Upscaling methods offered by the converter.
const (
	UpscaleBicubic    = "bicubic"
	UpscaleLanczos    = "lanczos"
	UpscaleAIEnhanced = "ai-enhanced"
)

// ParsePlan normalizes a stored plan string; unknown values are free.
func ParsePlan(raw string) Plan {
	if strings.EqualFold(strings.TrimSpace(raw), string(PlanPro)) {
		return PlanPro
	}
	return PlanFree
}

// AllowedOutputFormats returns the output formats a plan may produce.
func AllowedOutputFormats(plan Plan) []string {
	base := []string{"jpeg", "png", "webp"}
	if plan == PlanPro {
		return append(base, "gif", "bmp", "tiff", "avif")
	}
	return base
}

// AllowedUpscaleMethods returns the resampling methods a plan may request.
func AllowedUpscaleMethods(plan Plan) []string {
	if plan == PlanPro {
		return []string{UpscaleBicubic, UpscaleLanczos, UpscaleAIEnhanced}
	}
	return []string{UpscaleBicubic}
}

// CanOutput reports whether the format is part of the plan.
func CanOutput(plan Plan, format string) bool {
	return contains(AllowedOutputFormats(plan), strings.ToLower(format))
}

// CanUpscale reports whether the resampling method is part of the plan.
func CanUpscale(plan Plan, method string) bool {
	return contains(AllowedUpscaleMethods(plan), strings.ToLower(method))
}

// MaxOutputEdge is the longest edge in pixels a conversion may produce.
func MaxOutputEdge(plan Plan) int {
	if plan == PlanPro {
		return proMaxEdge
	}
	return freeMaxEdge
}

// MaxUploadBytes returns the per-file upload limit.
func MaxUploadBytes(plan Plan) int64 {
	if plan == PlanPro {
		mb := env.GetEnvInt("CONVERT_MAX_UPLOAD_MB", defaultProUploadMB)
		if mb <= 0 {
			mb = defaultProUploadMB
		}
		return int64(mb) << 20
	}
	return freeMaxUploadBytes
}

// CanUseJobs reports whether async conversion jobs are available.
func CanUseJobs(plan Plan) bool {
	return plan == PlanPro
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
