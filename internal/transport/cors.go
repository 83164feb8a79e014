package transport

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
)

// CORS wraps the fiber cors middleware and answers preflight requests with
// 200 OK instead of the middleware's 204 No Content.
func CORS(config cors.Config) fiber.Handler {
	handler := cors.New(config)
	return func(c *fiber.Ctx) error {
		err := handler(c)
		if err == nil && c.Method() == fiber.MethodOptions && c.Response().StatusCode() == fiber.StatusNoContent {
			c.Response().ResetBody()
			c.Status(fiber.StatusOK)
		}
		return err
	}
}
