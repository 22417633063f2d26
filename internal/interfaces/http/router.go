package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/jhoicas/verifactu-hub/internal/application/pipeline"
	"github.com/jhoicas/verifactu-hub/internal/domain/repository"
)

// RouterDeps dependencias para el router.
type RouterDeps struct {
	Intake        *pipeline.IntakeUseCase
	Status        *pipeline.StatusUseCase
	Installations repository.InstallationRepository
	JWTSecret     string
}

// Router registra las rutas de la API.
func Router(app *fiber.App, deps RouterDeps) {
	api := app.Group("/api")

	// Superficie de instalación (API key): intake y consultas propias.
	installationScope := api.Group("/", APIKeyMiddleware(deps.Installations))

	records := installationScope.Group("/records")
	recordHandler := NewRecordHandler(deps.Intake, deps.Status)
	records.Post("/", recordHandler.Register)
	records.Get("/:id", recordHandler.GetByID)

	installationHandler := NewInstallationHandler(deps.Status)
	installationScope.Get("/installation/eligibility", installationHandler.Eligibility)

	// Superficie de operación (JWT): cola de intervención manual.
	operatorScope := api.Group("/", AuthMiddleware(deps.JWTSecret))
	triggerHandler := NewTriggerHandler(deps.Status)
	operatorScope.Get("/triggers/errors", triggerHandler.ListErrors)
}
