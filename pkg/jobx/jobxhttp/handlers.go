// Package jobxhttp exposes the read and manual-retry surface of the task
// queue over HTTP. Callers observe job outcomes exclusively through these
// endpoints; handler errors never propagate across the async boundary.
package jobxhttp

import (
	"github.com/Abraxas-365/recibo/pkg/errx"
	"github.com/Abraxas-365/recibo/pkg/jobx"
	"github.com/gofiber/fiber/v2"
)

// Handlers serves the /jobs routes.
type Handlers struct {
	client *jobx.Client
}

// NewHandlers creates the job HTTP handlers.
func NewHandlers(client *jobx.Client) *Handlers {
	return &Handlers{client: client}
}

// RegisterRoutes mounts the job routes behind the given middleware.
func (h *Handlers) RegisterRoutes(app *fiber.App, middleware ...fiber.Handler) {
	group := app.Group("/jobs")
	for _, mw := range middleware {
		group.Use(mw)
	}

	group.Get("/stats", h.Stats)
	group.Get("/status/:queue/:id", h.Status)
	group.Post("/retry/:queue/:id", h.Retry)
}

// jobStatusResponse mirrors the shape processor clients already consume.
type jobStatusResponse struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	Data         interface{} `json:"data"`
	Progress     int         `json:"progress"`
	Status       string      `json:"status"`
	Attempts     int         `json:"attempts"`
	MaxAttempts  int         `json:"maxAttempts"`
	ProcessedOn  interface{} `json:"processedOn"`
	FinishedOn   interface{} `json:"finishedOn"`
	FailedReason string      `json:"failedReason,omitempty"`
	ReturnValue  interface{} `json:"returnvalue,omitempty"`
}

// Status returns the current snapshot of one job.
func (h *Handlers) Status(c *fiber.Ctx) error {
	queue := jobx.QueueName(c.Params("queue"))
	if !queue.Valid() {
		return errx.New("unknown queue name", errx.TypeValidation).
			WithDetail("queue", string(queue))
	}

	job, err := h.client.GetJob(c.Context(), c.Params("id"))
	if err != nil {
		return err
	}
	if job.Queue != queue {
		return jobx.NotFound(c.Params("id"))
	}

	resp := jobStatusResponse{
		ID:           job.ID,
		Name:         string(job.Queue),
		Data:         job.Payload,
		Status:       string(job.State),
		Attempts:     job.Attempts,
		MaxAttempts:  job.MaxAttempts,
		FailedReason: job.FailureReason,
	}
	if job.State == jobx.StateCompleted {
		resp.Progress = 100
	}
	if job.ProcessedAt != nil {
		resp.ProcessedOn = job.ProcessedAt.UnixMilli()
	}
	if job.FinishedAt != nil {
		resp.FinishedOn = job.FinishedAt.UnixMilli()
	}
	if len(job.Result) > 0 {
		resp.ReturnValue = job.Result
	}

	return c.JSON(resp)
}

// Stats returns per-state counts for every queue.
func (h *Handlers) Stats(c *fiber.Ctx) error {
	stats, err := h.client.AllStats(c.Context())
	if err != nil {
		return err
	}

	out := make(fiber.Map, len(stats))
	for queue, s := range stats {
		out[string(queue)] = fiber.Map{
			"waiting":   s.Waiting,
			"active":    s.Active,
			"completed": s.Completed,
			"failed":    s.Failed,
		}
	}
	return c.JSON(out)
}

// Retry re-enqueues a terminal failed job. Responds 404 when the job is
// absent or not in failed state.
func (h *Handlers) Retry(c *fiber.Ctx) error {
	queue := jobx.QueueName(c.Params("queue"))
	if !queue.Valid() {
		return errx.New("unknown queue name", errx.TypeValidation).
			WithDetail("queue", string(queue))
	}

	id := c.Params("id")
	job, err := h.client.GetJob(c.Context(), id)
	if err != nil {
		return err
	}
	if job.Queue != queue {
		return jobx.NotFound(id)
	}

	if err := h.client.Retry(c.Context(), id); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"id": id, "status": string(jobx.StateWaiting)})
}
