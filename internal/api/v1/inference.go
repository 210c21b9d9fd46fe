package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/irdetect/autoannotate/internal/api/middleware"
	"github.com/irdetect/autoannotate/internal/dataset"
	"github.com/irdetect/autoannotate/internal/errors"
)

func (c *Controller) initInferenceRoutes() {
	c.Group.POST("/projects/:name/save_auto_annotate_config", c.SaveAutoConfig)
	c.Group.GET("/projects/:name/get_auto_annotate_config", c.GetAutoConfig)
	c.Group.POST("/projects/:name/run_inference", c.RunInference)
	c.Group.POST("/projects/:name/run_auto_label", c.RunAutoLabel)
	c.Group.GET("/projects/:name/runs", c.ListRuns)
	c.Group.GET("/runs/:id", c.GetRun)
}

// SaveAutoConfig stores the model and subset used by the next run.
func (c *Controller) SaveAutoConfig(ctx echo.Context) error {
	var cfg dataset.AutoConfig
	if err := ctx.Bind(&cfg); err != nil {
		return c.badRequest(ctx, "Invalid request body")
	}
	if err := c.store.SaveAutoConfig(ctx.Param("name"), cfg); err != nil {
		return c.HandleError(ctx, err, "Failed to save auto-annotate config")
	}
	return ctx.JSON(http.StatusOK, messageResponse{Message: "Auto-annotate config saved"})
}

// GetAutoConfig returns the stored auto-annotate config.
func (c *Controller) GetAutoConfig(ctx echo.Context) error {
	cfg, err := c.store.LoadAutoConfig(ctx.Param("name"))
	if err != nil {
		return c.HandleError(ctx, err, "Failed to load auto-annotate config")
	}
	return ctx.JSON(http.StatusOK, cfg)
}

// RunAutoLabel runs inference synchronously and writes
// auto_annotate_results.json.
//
// Deprecated: clients should use run_inference.
func (c *Controller) RunAutoLabel(ctx echo.Context) error {
	job, err := c.runner.Prepare(ctx.Param("name"))
	if err != nil {
		return c.HandleError(ctx, err, "Failed to start inference")
	}
	ctx.Response().Header().Set(middleware.HeaderRunID, job.ID)
	ctx.Response().Header().Set("Deprecation", "true")

	summary, err := c.runner.RunAutoLabel(ctx.Request().Context(), job)
	if err != nil {
		return c.HandleError(ctx, err, "Inference failed")
	}
	return ctx.JSON(http.StatusOK, summary)
}

// ListRuns returns recent runs of a project, from the history database when
// enabled and from the in-memory run table otherwise.
func (c *Controller) ListRuns(ctx echo.Context) error {
	project := ctx.Param("name")
	if !c.store.ProjectExists(project) {
		return c.HandleError(ctx, errors.NotFoundError("project %q not found", project), "Failed to list runs")
	}

	if c.history == nil {
		return ctx.JSON(http.StatusOK, c.runner.Runs().List(project))
	}

	limit := 0
	if v := ctx.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return c.badRequest(ctx, "Invalid limit")
		}
		limit = n
	}
	runs, err := c.history.ListRuns(ctx.Request().Context(), project, limit)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to list runs")
	}
	return ctx.JSON(http.StatusOK, runs)
}

// GetRun returns the status of a run, falling back to the history database
// once it has left the run table.
func (c *Controller) GetRun(ctx echo.Context) error {
	id := ctx.Param("id")
	if run, ok := c.runner.Runs().Get(id); ok {
		return ctx.JSON(http.StatusOK, run)
	}
	if c.history == nil {
		return c.HandleError(ctx, errors.NotFoundError("run %q not found", id), "Unknown run")
	}
	run, err := c.history.GetRun(ctx.Request().Context(), id)
	if err != nil {
		return c.HandleError(ctx, err, "Unknown run")
	}
	return ctx.JSON(http.StatusOK, run)
}
