package http

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/crypto/bcrypt"

	"github.com/jhoicas/verifactu-hub/internal/application/dto"
	"github.com/jhoicas/verifactu-hub/internal/domain/repository"
)

// LocalInstallationID es la Locals key de la instalación autenticada.
const LocalInstallationID = "installation_id"

// HeaderAPIKey es el header de autenticación de instalaciones. El valor tiene
// la forma "<installation_id>.<secret>"; el secreto se compara contra el hash
// bcrypt almacenado.
const HeaderAPIKey = "X-API-Key"

// APIKeyMiddleware autentica la instalación emisora por API key. Es la
// superficie de intake: cada instalación solo ve y crea sus propios registros.
func APIKeyMiddleware(installations repository.InstallationRepository) fiber.Handler {
	return func(c *fiber.Ctx) error {
		raw := c.Get(HeaderAPIKey)
		if raw == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Code: "MISSING_API_KEY", Message: "header " + HeaderAPIKey + " requerido"})
		}
		id, secret, ok := strings.Cut(raw, ".")
		if !ok || id == "" || secret == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Code: "INVALID_API_KEY", Message: "formato: <installation_id>.<secret>"})
		}
		inst, err := installations.GetByID(c.Context(), id)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Code: "INTERNAL", Message: "error de autenticación"})
		}
		if inst == nil {
			return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Code: "INVALID_API_KEY", Message: "credenciales inválidas"})
		}
		if err := bcrypt.CompareHashAndPassword([]byte(inst.APIKeyHash), []byte(secret)); err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Code: "INVALID_API_KEY", Message: "credenciales inválidas"})
		}
		c.Locals(LocalInstallationID, inst.ID)
		return c.Next()
	}
}

// GetInstallationID devuelve la instalación autenticada del contexto.
func GetInstallationID(c *fiber.Ctx) string {
	v := c.Locals(LocalInstallationID)
	if v == nil {
		return ""
	}
	s, _ := v.(string)
	return s
}
