package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

func (c *Controller) initLabelRoutes() {
	c.Group.GET("/labels", c.GetLabels)
	c.Group.POST("/labels", c.AddLabel)
}

// GetLabels returns the label list of ?project=.
func (c *Controller) GetLabels(ctx echo.Context) error {
	project := ctx.QueryParam("project")
	if project == "" {
		return c.badRequest(ctx, "No project provided")
	}
	labels, err := c.store.Labels(project)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to read labels")
	}
	return ctx.JSON(http.StatusOK, labels)
}

type addLabelRequest struct {
	Label string `json:"label"`
}

// AddLabel appends a label to ?project=.
func (c *Controller) AddLabel(ctx echo.Context) error {
	project := ctx.QueryParam("project")
	if project == "" {
		return c.badRequest(ctx, "No project provided")
	}
	var req addLabelRequest
	if err := ctx.Bind(&req); err != nil {
		return c.badRequest(ctx, "Invalid request body")
	}

	if err := c.store.AddLabel(project, req.Label); err != nil {
		return c.HandleError(ctx, err, "Failed to add label")
	}
	return ctx.JSON(http.StatusCreated, messageResponse{Message: "Label added"})
}
