package api

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/irdetect/autoannotate/internal/dataset"
)

func (c *Controller) initSubsetRoutes() {
	c.Group.POST("/projects/:name/auto_annotate_request", c.CreateFullSubset)
	c.Group.POST("/projects/:name/create_manual_subset", c.CreateManualSubset)
	c.Group.POST("/projects/:name/create_random_subset", c.CreateRandomSubset)
	c.Group.GET("/projects/:name/subsets", c.ListSubsets)
	c.Group.POST("/projects/:name/delete_subset", c.DeleteSubset)
}

type subsetResponse struct {
	Message string   `json:"message"`
	Subset  string   `json:"subset"`
	JSON    string   `json:"json"`
	Images  []string `json:"images"`
}

func (c *Controller) subsetCreated(ctx echo.Context, mode string, s *dataset.CreatedSubset) error {
	if c.metrics != nil {
		c.metrics.Storage.RecordSubsetCreated(mode)
	}
	return ctx.JSON(http.StatusOK, subsetResponse{
		Message: fmt.Sprintf("Created %s with %d image(s)", s.Name, len(s.Images)),
		Subset:  s.Name,
		JSON:    s.JSON,
		Images:  s.Images,
	})
}

// CreateFullSubset creates a subset holding every project image.
func (c *Controller) CreateFullSubset(ctx echo.Context) error {
	s, err := c.store.CreateFullSubset(ctx.Param("name"))
	if err != nil {
		return c.HandleError(ctx, err, "Failed to create subset")
	}
	return c.subsetCreated(ctx, "full", s)
}

type manualSubsetRequest struct {
	Images []string `json:"images"`
}

// CreateManualSubset creates a subset from an explicit image list.
func (c *Controller) CreateManualSubset(ctx echo.Context) error {
	var req manualSubsetRequest
	if err := ctx.Bind(&req); err != nil {
		return c.badRequest(ctx, "Invalid request body")
	}

	s, err := c.store.CreateManualSubset(ctx.Param("name"), req.Images)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to create subset")
	}
	return c.subsetCreated(ctx, "manual", s)
}

type randomSubsetRequest struct {
	Percent *float64 `json:"percent"`
}

// CreateRandomSubset samples a percentage of the project images.
func (c *Controller) CreateRandomSubset(ctx echo.Context) error {
	var req randomSubsetRequest
	if err := ctx.Bind(&req); err != nil {
		return c.badRequest(ctx, "Invalid request body")
	}
	if req.Percent == nil {
		return c.badRequest(ctx, "No percent provided")
	}

	s, err := c.store.CreateRandomSubset(ctx.Param("name"), *req.Percent)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to create subset")
	}
	return c.subsetCreated(ctx, "random", s)
}

// ListSubsets returns {name, json} pairs in index order.
func (c *Controller) ListSubsets(ctx echo.Context) error {
	subsets, err := c.store.ListSubsets(ctx.Param("name"))
	if err != nil {
		return c.HandleError(ctx, err, "Failed to list subsets")
	}
	return ctx.JSON(http.StatusOK, subsets)
}

type deleteSubsetRequest struct {
	SubsetName string `json:"subset_name"`
}

// DeleteSubset removes a subset folder.
func (c *Controller) DeleteSubset(ctx echo.Context) error {
	var req deleteSubsetRequest
	if err := ctx.Bind(&req); err != nil {
		return c.badRequest(ctx, "Invalid request body")
	}
	if req.SubsetName == "" {
		return c.badRequest(ctx, "No subset name provided")
	}

	if err := c.store.DeleteSubset(ctx.Param("name"), req.SubsetName); err != nil {
		return c.HandleError(ctx, err, "Failed to delete subset")
	}
	return ctx.JSON(http.StatusOK, messageResponse{Message: fmt.Sprintf("Deleted %s", req.SubsetName)})
}
