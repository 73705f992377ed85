package handler

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

const (
	defaultLimit = 20
	maxLimit     = 100
)

var errInvalidPage = errors.New("limit must be 1..100 and offset must be >= 0")

func parseID(c *fiber.Ctx) (uuid.UUID, error) {
	return uuid.Parse(c.Params("id"))
}

// parsePage reads limit and offset query params. Missing values fall back to
// the defaults.
func parsePage(c *fiber.Ctx) (int64, int64, error) {
	limit := int64(defaultLimit)
	if s := c.Query("limit"); s != "" {
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil || v < 1 || v > maxLimit {
			return 0, 0, errInvalidPage
		}
		limit = v
	}

	var offset int64
	if s := c.Query("offset"); s != "" {
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil || v < 0 {
			return 0, 0, errInvalidPage
		}
		offset = v
	}

	return limit, offset, nil
}

type listResponse[T any] struct {
	Items      []T   `json:"items"`
	TotalCount int64 `json:"total_count"`
	Limit      int64 `json:"limit"`
	Offset     int64 `json:"offset"`
}
