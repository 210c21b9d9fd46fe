package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

func (c *Controller) initModelRoutes() {
	g := c.Group.Group("/models")
	g.GET("/list", c.ListModels)
	g.GET("/families", c.ListModelFamilies)
	g.GET("/versions", c.ListModelVersions)
	g.GET("/descriptions", c.ModelDescriptions)
}

// ListModels returns {family: [versions]}.
func (c *Controller) ListModels(ctx echo.Context) error {
	list, err := c.models.List()
	if err != nil {
		return c.HandleError(ctx, err, "Failed to list models")
	}
	return ctx.JSON(http.StatusOK, list)
}

// ListModelFamilies returns the family directory names.
func (c *Controller) ListModelFamilies(ctx echo.Context) error {
	families, err := c.models.Families()
	if err != nil {
		return c.HandleError(ctx, err, "Failed to list model families")
	}
	return ctx.JSON(http.StatusOK, families)
}

// ListModelVersions returns the weight files of ?family=.
func (c *Controller) ListModelVersions(ctx echo.Context) error {
	family := ctx.QueryParam("family")
	if family == "" {
		return c.badRequest(ctx, "No family provided")
	}
	versions, err := c.models.Versions(family)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to list model versions")
	}
	return ctx.JSON(http.StatusOK, versions)
}

// ModelDescriptions returns the parsed catalog file.
func (c *Controller) ModelDescriptions(ctx echo.Context) error {
	descriptions, err := c.models.Descriptions()
	if err != nil {
		return c.HandleError(ctx, err, "Failed to read model descriptions")
	}
	return ctx.JSON(http.StatusOK, descriptions)
}
