package handlers

import (
	"strconv"
	"time"

	"agri-price-api/store"

	"github.com/gin-gonic/gin"
)

// ParsePagination reads page and limit; bad values fall back to defaults
// and Normalize clamps the rest.
func ParsePagination(c *gin.Context) store.Page {
	p := store.Page{Page: 1, Limit: store.DefaultLimit}

	if pageStr := c.Query("page"); pageStr != "" {
		if n, err := strconv.Atoi(pageStr); err == nil && n > 0 {
			p.Page = n
		}
	}
	if limitStr := c.Query("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			p.Limit = l
		}
	}
	return p.Normalize()
}

// parseDate reads an optional YYYY-MM-DD query parameter.
func parseDate(c *gin.Context, name string) (*time.Time, bool) {
	raw := c.Query(name)
	if raw == "" {
		return nil, true
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		badRequest(c, name+" must be YYYY-MM-DD")
		return nil, false
	}
	return &t, true
}
