package controllers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/PixelConvert/internal/pkg/converter"
	"github.com/ManuelReschke/PixelConvert/internal/pkg/entitlements"
	"github.com/ManuelReschke/PixelConvert/internal/pkg/metrics"
	"github.com/ManuelReschke/PixelConvert/internal/pkg/paywall"
	"github.com/ManuelReschke/PixelConvert/internal/pkg/trial"
	"github.com/ManuelReschke/PixelConvert/internal/pkg/usercontext"
)

const convertTimeout = 60 * time.Second

var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// ConvertProcessor is the part of converter.Processor the HTTP layer uses.
type ConvertProcessor interface {
	Convert(ctx context.Context, input []byte, opts converter.Options) (*converter.Result, error)
	Submit(owner string, input []byte, opts converter.Options) (string, error)
	Status(ctx context.Context, id string) (*converter.JobStatus, error)
	Result(ctx context.Context, id string) ([]byte, *converter.JobStatus, error)
}

// ConvertController serves conversion, inspection and job routes
type ConvertController struct {
	processor ConvertProcessor
	trials    trial.Store
	metrics   *metrics.Metrics
	now       func() time.Time
}

// NewConvertController creates a convert controller
func NewConvertController(processor ConvertProcessor, trials trial.Store, m *metrics.Metrics) *ConvertController {
	return &ConvertController{
		processor: processor,
		trials:    trials,
		metrics:   m,
		now:       time.Now,
	}
}

// HandleFormats lists input formats plus output formats and upscaling per plan
func (cc *ConvertController) HandleFormats(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	return c.JSON(fiber.Map{
		"plan":          userCtx.Plan,
		"input_formats": converter.InputFormats,
		"output_formats": fiber.Map{
			string(entitlements.PlanFree): entitlements.AllowedOutputFormats(entitlements.PlanFree),
			string(entitlements.PlanPro):  entitlements.AllowedOutputFormats(entitlements.PlanPro),
		},
		"upscale_methods": fiber.Map{
			string(entitlements.PlanFree): entitlements.AllowedUpscaleMethods(entitlements.PlanFree),
			string(entitlements.PlanPro):  entitlements.AllowedUpscaleMethods(entitlements.PlanPro),
		},
		"max_output_edge":  entitlements.MaxOutputEdge(userCtx.Plan),
		"max_upload_bytes": entitlements.MaxUploadBytes(userCtx.Plan),
	})
}

// HandleConvert converts the uploaded file and returns the image bytes.
// Free users get exactly one conversion through the trial flag.
func (cc *ConvertController) HandleConvert(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	isPro := userCtx.IsPro()

	ctx, cancel := context.WithTimeout(context.Background(), convertTimeout)
	defer cancel()

	if !isPro {
		used, err := cc.trials.IsUsed(ctx, userCtx.TrialSubject())
		if err != nil {
			log.Errorf("[Convert] Failed to read trial flag: %v", err)
			return jsonError(c, fiber.StatusServiceUnavailable, "trial_unavailable", "trial state could not be checked")
		}
		if used {
			return c.Status(fiber.StatusPaymentRequired).JSON(fiber.Map{
				"error":   "payment_required",
				"message": "your free conversion has been used; upgrade to continue",
				"paywall": paywall.Evaluate(userCtx.Metadata, true, cc.now()),
			})
		}
	}

	input, filename, ok := readUpload(c, userCtx.Plan)
	if !ok {
		return nil
	}
	opts, ok := cc.parseOptions(c, userCtx.Plan)
	if !ok {
		return nil
	}

	res, err := cc.processor.Convert(ctx, input, opts)
	if err != nil {
		return convertError(c, err)
	}

	if !isPro {
		if err := cc.trials.MarkUsed(ctx, userCtx.TrialSubject()); err != nil {
			log.Errorf("[Convert] Failed to mark trial used for %s: %v", userCtx.TrialSubject(), err)
		} else {
			cc.metrics.TrialConsumed()
		}
	}

	c.Set(fiber.HeaderContentType, res.ContentType())
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="%s"`, outputFilename(filename, res.Format)))
	c.Set("X-Image-Width", strconv.Itoa(res.Width))
	c.Set("X-Image-Height", strconv.Itoa(res.Height))
	return c.Status(fiber.StatusOK).Send(res.Data)
}

// HandleInspect reports format, dimensions and EXIF data of an upload
func (cc *ConvertController) HandleInspect(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	input, _, ok := readUpload(c, userCtx.Plan)
	if !ok {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	info, err := converter.Inspect(ctx, input)
	if err != nil {
		return convertError(c, err)
	}
	return c.JSON(info)
}

// HandleSubmitJob queues an async conversion (Pro only)
func (cc *ConvertController) HandleSubmitJob(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !entitlements.CanUseJobs(userCtx.Plan) {
		return jsonError(c, fiber.StatusPaymentRequired, "payment_required", "async jobs require a Pro subscription")
	}

	input, _, ok := readUpload(c, userCtx.Plan)
	if !ok {
		return nil
	}
	opts, ok := cc.parseOptions(c, userCtx.Plan)
	if !ok {
		return nil
	}

	id, err := cc.processor.Submit(userCtx.Owner(), input, opts)
	if err != nil {
		return convertError(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"job_id": id})
}

// HandleJobStatus returns state and progress of a job owned by the caller
func (cc *ConvertController) HandleJobStatus(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	st, err := cc.processor.Status(ctx, c.Params("id"))
	if err != nil || st.Owner != userCtx.Owner() {
		return jobLookupError(c, err)
	}
	return c.JSON(st)
}

// HandleJobResult streams the converted bytes of a completed job
func (cc *ConvertController) HandleJobResult(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	id := c.Params("id")
	st, err := cc.processor.Status(ctx, id)
	if err != nil || st.Owner != userCtx.Owner() {
		return jobLookupError(c, err)
	}

	data, st, err := cc.processor.Result(ctx, id)
	switch {
	case errors.Is(err, converter.ErrJobNotReady):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error":    "job_not_ready",
			"message":  "job has not completed",
			"state":    st.State,
			"progress": st.Progress,
		})
	case err != nil:
		return jobLookupError(c, err)
	}

	c.Set(fiber.HeaderContentType, st.ContentType)
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="%s%s"`, st.ID, st.Format.Extension()))
	return c.Status(fiber.StatusOK).Send(data)
}

// parseOptions binds the form fields and applies plan limits. When ok is
// false the error response has already been written.
func (cc *ConvertController) parseOptions(c *fiber.Ctx, plan entitlements.Plan) (opts converter.Options, ok bool) {
	if err := c.BodyParser(&opts); err != nil {
		_ = jsonError(c, fiber.StatusBadRequest, "invalid_options", err.Error())
		return opts, false
	}

	format, err := converter.ParseOutputFormat(opts.Format)
	if err != nil {
		_ = jsonError(c, fiber.StatusBadRequest, "invalid_format", fmt.Sprintf("unknown output format %q", opts.Format))
		return opts, false
	}
	if !entitlements.CanOutput(plan, string(format)) {
		_ = jsonError(c, fiber.StatusForbidden, "format_not_allowed",
			fmt.Sprintf("output format %s requires a Pro subscription", format))
		return opts, false
	}

	opts.Upscale = strings.ToLower(strings.TrimSpace(opts.Upscale))
	if opts.Upscale == "" && plan != entitlements.PlanPro {
		opts.Upscale = entitlements.UpscaleBicubic
	}
	if opts.Upscale != "" && !entitlements.CanUpscale(plan, opts.Upscale) {
		_ = jsonError(c, fiber.StatusForbidden, "upscale_not_allowed",
			fmt.Sprintf("upscaling method %s requires a Pro subscription", opts.Upscale))
		return opts, false
	}

	opts.MaxEdge = entitlements.MaxOutputEdge(plan)
	return opts, true
}

// readUpload reads the "file" field, enforcing the plan's upload limit. When
// ok is false the error response has already been written.
func readUpload(c *fiber.Ctx, plan entitlements.Plan) (data []byte, filename string, ok bool) {
	fh, err := c.FormFile("file")
	if err != nil {
		_ = jsonError(c, fiber.StatusBadRequest, "missing_file", "multipart field 'file' is required")
		return nil, "", false
	}
	limit := entitlements.MaxUploadBytes(plan)
	tooLarge := func() ([]byte, string, bool) {
		_ = jsonError(c, fiber.StatusRequestEntityTooLarge, "file_too_large",
			fmt.Sprintf("file exceeds the %d MB limit of your plan", limit>>20))
		return nil, "", false
	}
	if fh.Size > limit {
		return tooLarge()
	}

	f, err := fh.Open()
	if err != nil {
		log.Errorf("[Convert] Failed to open upload: %v", err)
		_ = jsonError(c, fiber.StatusBadRequest, "invalid_upload", "upload could not be read")
		return nil, "", false
	}
	defer f.Close()

	data, err = io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		_ = jsonError(c, fiber.StatusBadRequest, "invalid_upload", "upload could not be read")
		return nil, "", false
	}
	if int64(len(data)) > limit {
		return tooLarge()
	}
	if len(data) == 0 {
		_ = jsonError(c, fiber.StatusBadRequest, "empty_file", "uploaded file is empty")
		return nil, "", false
	}
	return data, fh.Filename, true
}

func convertError(c *fiber.Ctx, err error) error {
	var verrs validator.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		return jsonError(c, fiber.StatusBadRequest, "invalid_options", err.Error())
	case errors.Is(err, converter.ErrHEICUnsupported):
		return jsonError(c, fiber.StatusUnsupportedMediaType, "heic_unsupported", err.Error())
	case errors.Is(err, converter.ErrAVIFUnsupported):
		return jsonError(c, fiber.StatusUnsupportedMediaType, "avif_unsupported", err.Error())
	case errors.Is(err, converter.ErrUnsupportedFormat):
		return jsonError(c, fiber.StatusUnsupportedMediaType, "unsupported_format", err.Error())
	case errors.Is(err, converter.ErrImageTooLarge):
		return jsonError(c, fiber.StatusRequestEntityTooLarge, "image_too_large", err.Error())
	case errors.Is(err, converter.ErrFormatUnavailable):
		return jsonError(c, fiber.StatusUnprocessableEntity, "format_unavailable", err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return jsonError(c, fiber.StatusGatewayTimeout, "conversion_timeout", "conversion took too long")
	case errors.Is(err, converter.ErrQueueFull), errors.Is(err, converter.ErrProcessorStopped):
		return jsonError(c, fiber.StatusServiceUnavailable, "busy", err.Error())
	default:
		log.Warnf("[Convert] Conversion failed: %v", err)
		return jsonError(c, fiber.StatusUnprocessableEntity, "conversion_failed", err.Error())
	}
}

func jobLookupError(c *fiber.Ctx, err error) error {
	if err != nil && !errors.Is(err, converter.ErrJobNotFound) {
		log.Errorf("[Convert] Job lookup failed: %v", err)
		return jsonError(c, fiber.StatusInternalServerError, "job_lookup_failed", "job state could not be read")
	}
	return jsonError(c, fiber.StatusNotFound, "job_not_found", "job not found")
}

func outputFilename(uploaded string, format converter.Format) string {
	base := filepath.Base(uploaded)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	base = strings.Trim(unsafeFilenameChars.ReplaceAllString(base, "_"), "._")
	if base == "" {
		base = "image"
	}
	return base + format.Extension()
}
