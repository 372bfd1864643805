package metrics

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
)

// Middleware returns Fiber middleware that records request count and latency.
// Requests are labeled with the matched route pattern to keep cardinality bounded.
func (r *Recorder) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			status = fiber.StatusInternalServerError
			var fe *fiber.Error
			if errors.As(err, &fe) {
				status = fe.Code
			}
		}

		path := c.Route().Path
		if path == "" || (path == "/" && c.Path() != "/") {
			path = "unmatched"
		}
		r.ObserveHTTP(c.Method(), path, status, time.Since(start))
		return err
	}
}
