package utils

import (
	"fmt"
	"strconv"
	"time"

	"github.com/yourorg/market-data-platform/internal/normalize"

	"github.com/gin-gonic/gin"
)

// ParseBoundedInt parses an integer query parameter, using defaultValue when
// it is absent and rejecting values outside [minValue, maxValue]
func ParseBoundedInt(c *gin.Context, name string, defaultValue, minValue, maxValue int) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return defaultValue, nil
	}

	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: must be an integer", name)
	}
	if value < minValue || value > maxValue {
		return 0, fmt.Errorf("invalid %s: must be between %d and %d", name, minValue, maxValue)
	}
	return value, nil
}

// ParseTimeParam parses an optional ISO-8601 time query parameter. Values
// without an offset are read as UTC.
func ParseTimeParam(c *gin.Context, name string) (*time.Time, error) {
	raw := c.Query(name)
	if raw == "" {
		return nil, nil
	}

	t, err := normalize.ToUTC(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid %s format, use ISO 8601 (e.g. 2024-01-01T00:00:00Z) or YYYY-MM-DD", name)
	}
	return &t, nil
}

// SendErrorResponse sends a standardized error response
func SendErrorResponse(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, gin.H{"error": message})
}
