package http_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/jhoicas/verifactu-hub/internal/domain/entity"
	apphttp "github.com/jhoicas/verifactu-hub/internal/interfaces/http"
	pkgjwt "github.com/jhoicas/verifactu-hub/pkg/jwt"
)

// ──────────────────────────────────────────────────────────────────────────────
// Helpers de test
// ──────────────────────────────────────────────────────────────────────────────

const (
	testJWTSecret  = "test-secret-key-for-unit-tests"
	testOperatorID = "00000000-0000-0000-0000-000000000001"
	testIssuer     = "verifactu-hub-test"
	testExpMin     = 60
	testAPISecret  = "clave-de-intake-secreta"
)

// fakeInstallationRepo implementa lo mínimo de InstallationRepository para los
// middlewares.
type fakeInstallationRepo struct {
	installations map[string]*entity.Installation
}

func (r *fakeInstallationRepo) GetByID(_ context.Context, id string) (*entity.Installation, error) {
	return r.installations[id], nil
}

func (r *fakeInstallationRepo) GetForChain(ctx context.Context, id string) (*entity.Installation, error) {
	return r.GetByID(ctx, id)
}

func (r *fakeInstallationRepo) ListActiveWithPending(_ context.Context) ([]*entity.Installation, error) {
	return nil, nil
}

func (r *fakeInstallationRepo) UpdateFlowControl(_ context.Context, _ string, _ time.Time, _ int) error {
	return nil
}

func newFakeRepo(t *testing.T) *fakeInstallationRepo {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(testAPISecret), bcrypt.MinCost)
	require.NoError(t, err)
	return &fakeInstallationRepo{installations: map[string]*entity.Installation{
		"inst-1": {ID: "inst-1", NIF: "89890001K", APIKeyHash: string(hash), Active: true},
	}}
}

func bearerToken(t *testing.T) string {
	t.Helper()
	tok, err := pkgjwt.Generate(testJWTSecret, testOperatorID, "operador", testIssuer, testExpMin)
	require.NoError(t, err, "debe generarse un token JWT válido")
	return "Bearer " + tok
}

// ──────────────────────────────────────────────────────────────────────────────
// Tests APIKeyMiddleware
// ──────────────────────────────────────────────────────────────────────────────

func buildAPIKeyApp(t *testing.T) *fiber.App {
	t.Helper()
	app := fiber.New()
	app.Get("/intake", apphttp.APIKeyMiddleware(newFakeRepo(t)), func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"installation_id": apphttp.GetInstallationID(c)})
	})
	return app
}

func doAPIKeyRequest(t *testing.T, app *fiber.App, key string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/intake", nil)
	if key != "" {
		req.Header.Set(apphttp.HeaderAPIKey, key)
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func TestAPIKeyMiddleware_ClaveValida(t *testing.T) {
	app := buildAPIKeyApp(t)
	resp := doAPIKeyRequest(t, app, "inst-1."+testAPISecret)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "inst-1", body["installation_id"])
}

func TestAPIKeyMiddleware_SecretoIncorrecto(t *testing.T) {
	app := buildAPIKeyApp(t)
	resp := doAPIKeyRequest(t, app, "inst-1.secreto-equivocado")
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "INVALID_API_KEY")
}

func TestAPIKeyMiddleware_InstalacionDesconocida(t *testing.T) {
	app := buildAPIKeyApp(t)
	resp := doAPIKeyRequest(t, app, "inst-999."+testAPISecret)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAPIKeyMiddleware_SinHeader(t *testing.T) {
	app := buildAPIKeyApp(t)
	resp := doAPIKeyRequest(t, app, "")
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "MISSING_API_KEY")
}

func TestAPIKeyMiddleware_FormatoInvalido(t *testing.T) {
	app := buildAPIKeyApp(t)
	resp := doAPIKeyRequest(t, app, "sin-separador")
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

// ──────────────────────────────────────────────────────────────────────────────
// Tests AuthMiddleware — extracción de claims del token
// ──────────────────────────────────────────────────────────────────────────────

func TestAuthMiddleware_ExtractaClaims(t *testing.T) {
	app := fiber.New()
	app.Get("/me", apphttp.AuthMiddleware(testJWTSecret), func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"operator_id": apphttp.GetOperatorID(c)})
	})

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", bearerToken(t))
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, testOperatorID, body["operator_id"])
}

func TestAuthMiddleware_SinAuthHeader_Retorna401(t *testing.T) {
	app := fiber.New()
	app.Get("/me", apphttp.AuthMiddleware(testJWTSecret), func(c *fiber.Ctx) error {
		return c.SendStatus(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAuthMiddleware_TokenInvalido_Retorna401(t *testing.T) {
	app := fiber.New()
	app.Get("/me", apphttp.AuthMiddleware(testJWTSecret), func(c *fiber.Ctx) error {
		return c.SendStatus(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer token.invalido.aqui")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

// ──────────────────────────────────────────────────────────────────────────────
// Tests JWT pkg — integridad del generate/parse
// ──────────────────────────────────────────────────────────────────────────────

func TestJWT_GenerateAndParse(t *testing.T) {
	tok, err := pkgjwt.Generate(testJWTSecret, testOperatorID, "operador", testIssuer, testExpMin)
	require.NoError(t, err)
	require.NotEmpty(t, tok)

	operatorID, role, err := pkgjwt.Parse(testJWTSecret, tok)
	require.NoError(t, err)

	assert.Equal(t, testOperatorID, operatorID)
	assert.Equal(t, "operador", role)
}

func TestJWT_TokenExpirado_RetornaError(t *testing.T) {
	// Token con expiración -1 minuto (ya expirado)
	tok, err := pkgjwt.Generate(testJWTSecret, testOperatorID, "operador", testIssuer, -1)
	require.NoError(t, err)

	_, _, err = pkgjwt.Parse(testJWTSecret, tok)
	assert.Error(t, err, "token expirado debe retornar error")
}

func TestJWT_SecretIncorrecto_RetornaError(t *testing.T) {
	tok, err := pkgjwt.Generate(testJWTSecret, testOperatorID, "operador", testIssuer, testExpMin)
	require.NoError(t, err)

	_, _, err = pkgjwt.Parse("otro-secret-completamente-distinto", tok)
	assert.Error(t, err, "secret incorrecto debe invalidar el token")
}
