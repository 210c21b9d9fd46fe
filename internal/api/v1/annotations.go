package api

import (
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/irdetect/autoannotate/internal/dataset"
)

// maxAnnotationDocument bounds the body of save_annotations.
const maxAnnotationDocument = 64 << 20

func (c *Controller) initAnnotationRoutes() {
	c.Group.POST("/projects/:name/save_annotations", c.SaveAnnotations)
	c.Group.POST("/projects/:name/save_annotation", c.SaveAnnotation)
	c.Group.GET("/projects/:name/annotations", c.GetAnnotations)
	c.Group.POST("/projects/:name/annotate", c.Annotate)
}

// SaveAnnotations replaces the manual annotation document.
func (c *Controller) SaveAnnotations(ctx echo.Context) error {
	raw, err := io.ReadAll(io.LimitReader(ctx.Request().Body, maxAnnotationDocument+1))
	if err != nil {
		return c.badRequest(ctx, "Failed to read request body")
	}
	if len(raw) > maxAnnotationDocument {
		return c.badRequest(ctx, "Annotation document too large")
	}

	if err := c.store.ReplaceAnnotations(ctx.Param("name"), raw); err != nil {
		return c.HandleError(ctx, err, "Failed to save annotations")
	}
	return ctx.JSON(http.StatusOK, messageResponse{Message: "Annotations saved"})
}

type saveAnnotationRequest struct {
	FileName    string               `json:"file_name"`
	Width       int                  `json:"width"`
	Height      int                  `json:"height"`
	Annotations []dataset.Annotation `json:"annotations"`
}

// SaveAnnotation replaces the entry of a single image.
func (c *Controller) SaveAnnotation(ctx echo.Context) error {
	var req saveAnnotationRequest
	if err := ctx.Bind(&req); err != nil {
		return c.badRequest(ctx, "Invalid request body")
	}

	err := c.store.UpsertAnnotation(ctx.Param("name"), req.FileName, req.Width, req.Height, req.Annotations)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to save annotation")
	}
	return ctx.JSON(http.StatusOK, messageResponse{Message: "Annotation saved for " + req.FileName})
}

// GetAnnotations returns the stored annotations of ?image= as a bare array.
func (c *Controller) GetAnnotations(ctx echo.Context) error {
	image := ctx.QueryParam("image")
	if image == "" {
		return c.badRequest(ctx, "No image provided")
	}

	annotations, err := c.store.ImageAnnotations(ctx.Param("name"), image)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to load annotations")
	}
	return ctx.JSON(http.StatusOK, annotations)
}

type annotateRequest struct {
	Image string               `json:"image"`
	Boxes []dataset.Annotation `json:"boxes"`
}

// Annotate stores boxes for an image, reading its size from the file.
func (c *Controller) Annotate(ctx echo.Context) error {
	var req annotateRequest
	if err := ctx.Bind(&req); err != nil {
		return c.badRequest(ctx, "Invalid request body")
	}

	if err := c.store.Annotate(ctx.Param("name"), req.Image, req.Boxes); err != nil {
		return c.HandleError(ctx, err, "Failed to save annotation")
	}
	return ctx.JSON(http.StatusOK, messageResponse{Message: "Annotation saved for " + req.Image})
}
