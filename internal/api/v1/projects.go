package api

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/irdetect/autoannotate/internal/logger"
)

func (c *Controller) initProjectRoutes() {
	c.Group.GET("/projects", c.ListProjects)
	c.Group.POST("/projects", c.CreateProject)
	c.Group.POST("/projects/:name/upload", c.UploadImages)
	c.Group.GET("/projects/:name/images", c.ListImages)

	// raw files live outside /api
	c.Echo.GET("/projects/:name/images/", c.ListImages)
	c.Echo.GET("/projects/:name/images/:filename", c.ServeImage)
	c.Echo.GET("/projects/:name/*", c.ServeProjectFile)
}

// ListProjects returns every entry of the projects directory.
func (c *Controller) ListProjects(ctx echo.Context) error {
	projects, err := c.store.ListProjects()
	if err != nil {
		return c.HandleError(ctx, err, "Failed to list projects")
	}
	return ctx.JSON(http.StatusOK, projects)
}

type createProjectRequest struct {
	ProjectName string `json:"project_name"`
}

// CreateProject creates a project with an empty images directory.
func (c *Controller) CreateProject(ctx echo.Context) error {
	var req createProjectRequest
	if err := ctx.Bind(&req); err != nil {
		return c.badRequest(ctx, "Invalid request body")
	}
	if req.ProjectName == "" {
		return c.badRequest(ctx, "No project name provided")
	}

	if err := c.store.CreateProject(req.ProjectName); err != nil {
		return c.HandleError(ctx, err, "Failed to create project")
	}
	return ctx.JSON(http.StatusCreated, messageResponse{
		Message: fmt.Sprintf("Project '%s' created!", req.ProjectName),
	})
}

type uploadResponse struct {
	Message string `json:"message"`
	Count   int    `json:"count"`
}

// UploadImages extracts the images of a zip archive sent as multipart field "file".
func (c *Controller) UploadImages(ctx echo.Context) error {
	name := ctx.Param("name")

	header, err := ctx.FormFile("file")
	if err != nil {
		return c.badRequest(ctx, "No file uploaded")
	}
	f, err := header.Open()
	if err != nil {
		return c.badRequest(ctx, "Failed to read uploaded file")
	}
	defer func() {
		if err := f.Close(); err != nil {
			c.log.Warn("Failed to close upload", logger.Error(err))
		}
	}()

	count, err := c.store.UploadImages(ctx.Request().Context(), name, f, header.Size)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to upload images")
	}
	if c.metrics != nil {
		c.metrics.Storage.RecordImagesUploaded(count)
	}

	return ctx.JSON(http.StatusOK, uploadResponse{
		Message: fmt.Sprintf("Uploaded %d image(s)!", count),
		Count:   count,
	})
}

// ListImages returns the image file names of a project.
func (c *Controller) ListImages(ctx echo.Context) error {
	images, err := c.store.ListImages(ctx.Param("name"))
	if err != nil {
		return c.HandleError(ctx, err, "Failed to list images")
	}
	return ctx.JSON(http.StatusOK, images)
}

// ServeImage streams the raw bytes of one project image.
func (c *Controller) ServeImage(ctx echo.Context) error {
	rel, err := c.store.ImagePath(ctx.Param("name"), ctx.Param("filename"))
	if err != nil {
		return c.HandleError(ctx, err, "Invalid image path")
	}
	return c.store.FS().ServeFile(ctx, rel)
}

// ServeProjectFile streams any file inside a project, such as a subset
// list or a results document.
func (c *Controller) ServeProjectFile(ctx echo.Context) error {
	rel, err := c.store.ProjectFilePath(ctx.Param("name"), ctx.Param("*"))
	if err != nil {
		return c.HandleError(ctx, err, "Invalid file path")
	}
	return c.store.FS().ServeFile(ctx, rel)
}
