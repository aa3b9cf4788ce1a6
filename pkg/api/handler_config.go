package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/streamhub/core/pkg/model"
)

// listMappingsHandler handles GET /api/v1/mappings.
func (s *Server) listMappingsHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, s.configService.ListMappings())
}

// getMappingHandler handles GET /api/v1/mappings/:id.
func (s *Server) getMappingHandler(c *echo.Context) error {
	m, err := s.configService.GetMapping(c.Param("id"))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, m)
}

// upsertMappingHandler handles POST /api/v1/mappings and
// PUT /api/v1/mappings/:id. The body is the mapping's JSON wire shape;
// on PUT the path id must match the body id.
func (s *Server) upsertMappingHandler(c *echo.Context) error {
	var cfg model.MappingConfig
	if err := c.Bind(&cfg); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid mapping body")
	}
	if id := c.Param("id"); id != "" && id != cfg.ID {
		return echo.NewHTTPError(http.StatusBadRequest, "path id does not match body id")
	}
	if err := s.configService.UpsertMapping(c.Request().Context(), cfg); err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, cfg)
}

// deleteMappingHandler handles DELETE /api/v1/mappings/:id.
func (s *Server) deleteMappingHandler(c *echo.Context) error {
	if err := s.configService.DeleteMapping(c.Request().Context(), c.Param("id")); err != nil {
		return mapServiceError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// listPatternsHandler handles GET /api/v1/patterns.
func (s *Server) listPatternsHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, s.configService.ListPatterns())
}

// getPatternHandler handles GET /api/v1/patterns/:id.
func (s *Server) getPatternHandler(c *echo.Context) error {
	p, err := s.configService.GetPattern(c.Param("id"))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, p)
}

// upsertPatternHandler handles POST /api/v1/patterns and
// PUT /api/v1/patterns/:id.
func (s *Server) upsertPatternHandler(c *echo.Context) error {
	var p model.Pattern
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid pattern body")
	}
	if id := c.Param("id"); id != "" && id != p.ID {
		return echo.NewHTTPError(http.StatusBadRequest, "path id does not match body id")
	}
	if err := s.configService.UpsertPattern(c.Request().Context(), p); err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, p)
}

// deletePatternHandler handles DELETE /api/v1/patterns/:id.
func (s *Server) deletePatternHandler(c *echo.Context) error {
	if err := s.configService.DeletePattern(c.Request().Context(), c.Param("id")); err != nil {
		return mapServiceError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
