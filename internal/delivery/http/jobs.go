package http

import (
	"net/http"
	"time"

	"market-forecast/internal/dto"
	"market-forecast/internal/strategy"
	"market-forecast/pkg/logger"
	"market-forecast/pkg/utils"

	"github.com/labstack/echo/v4"
)

func (h *HttpAPIHandler) SetupJobs(base *echo.Group) {
	v1 := base.Group("/v1/jobs")
	{
		v1.GET("", h.ListJobs)
		v1.POST("/:name/run", h.RunJob)
	}
}

func (h *HttpAPIHandler) health(c echo.Context) error {
	status := dto.HealthStatus{
		ModelLoaded: h.service.PredictionEngine.IsTrained(c.Request().Context()),
		Jobs:        len(h.service.SchedulerService.Jobs()),
		Time:        time.Now().UTC(),
	}
	return c.JSON(http.StatusOK, dto.NewSuccessResponse("ok", status))
}

func (h *HttpAPIHandler) ListJobs(c echo.Context) error {
	return c.JSON(http.StatusOK, dto.NewSuccessResponse("configured jobs", h.service.SchedulerService.Jobs()))
}

// RunJob starts the named job in the background; the request returns once it is accepted.
func (h *HttpAPIHandler) RunJob(c echo.Context) error {
	name := c.Param("name")

	var job *strategy.Job
	for _, j := range h.service.SchedulerService.Jobs() {
		if j.Name == name {
			job = &j
			break
		}
	}
	if job == nil {
		return c.JSON(http.StatusNotFound, dto.NewBaseResponse(http.StatusNotFound, "job not found: "+name, nil))
	}

	// The job outlives the request; it stops with the server context.
	utils.GoSafe(h.log, func() {
		if _, err := h.service.SchedulerService.RunJob(h.ctx, *job); err != nil && h.ctx.Err() == nil {
			h.log.Error("Manual job failed", logger.ErrorField(err), logger.StringField("job_name", name))
		}
	})
	return c.JSON(http.StatusAccepted, dto.NewBaseResponse(http.StatusAccepted, "Start running job "+name, nil))
}
