package aeat

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/beevik/etree"

	"github.com/jhoicas/verifactu-hub/internal/application/pipeline"
)

// ── Constantes de entorno ──────────────────────────────────────────────────────

const (
	// AppEnvTest es el identificador del entorno de pruebas de la AEAT.
	AppEnvTest = "test"
	// AppEnvProd es el identificador del entorno de producción de la AEAT.
	AppEnvProd = "prod"
	// AppEnvDev es el identificador local: no envía al WS de la AEAT.
	AppEnvDev = "dev"

	soapURLTest = "https://prewww1.aeat.es/wlpl/TIKE-CONT/ws/SistemaFacturacion/VerifactuSOAP"
	soapURLProd = "https://www1.agenciatributaria.gob.es/wlpl/TIKE-CONT/ws/SistemaFacturacion/VerifactuSOAP"
)

var _ pipeline.Submitter = (*SOAPClient)(nil)

// SOAPClient entrega los envíos al WS VeriFactu con mTLS (certificado de
// sello). Los fallos de transporte y los 5xx del servidor se envuelven en
// pipeline.ErrTransient para que el worker los reintente; un veredicto de la
// AEAT, aunque sea Incorrecto, nunca es un error.
type SOAPClient struct {
	httpClient *http.Client
	url        string
}

// NewSOAPClient construye el cliente para el entorno dado ("test" o "prod").
// El timeout debe ser generoso: el WS puede tardar varios segundos.
func NewSOAPClient(env string, cert tls.Certificate, timeout time.Duration) (*SOAPClient, error) {
	var url string
	switch env {
	case AppEnvProd:
		url = soapURLProd
	case AppEnvTest:
		url = soapURLTest
	default:
		return nil, fmt.Errorf("aeat: entorno desconocido %q (usar 'test' o 'prod')", env)
	}

	transport := &http.Transport{}
	if len(cert.Certificate) > 0 {
		transport.TLSClientConfig = &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}
	}
	return &SOAPClient{
		httpClient: &http.Client{Timeout: timeout, Transport: transport},
		url:        url,
	}, nil
}

// Submit envía el envelope y devuelve el veredicto parseado.
func (c *SOAPClient) Submit(ctx context.Context, payload []byte) (*pipeline.SubmitResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("aeat: crear request: %w", err)
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: llamada HTTP fallida: %v", pipeline.ErrTransient, err)
	}
	defer resp.Body.Close()

	rawBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20)) // max 4 MB
	if err != nil {
		return nil, fmt.Errorf("%w: leer respuesta: %v", pipeline.ErrTransient, err)
	}

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: el WS respondió %d", pipeline.ErrTransient, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		// 4xx: el envío en sí es inválido (certificado, esquema). Reintentar no ayuda.
		return nil, fmt.Errorf("aeat: el WS respondió %d: %s", resp.StatusCode, string(rawBody))
	}

	result, err := ParseResponse(rawBody)
	if err != nil {
		// Un 200 que no parsea suele ser un intermediario caído.
		return nil, fmt.Errorf("%w: %v", pipeline.ErrTransient, err)
	}
	return result, nil
}

var _ pipeline.Submitter = (*SimulatedSubmitter)(nil)

// SimulatedSubmitter acepta todos los envíos sin tocar la red. Es el submitter
// del entorno "dev": permite ejercitar el pipeline completo en local.
type SimulatedSubmitter struct{}

// NewSimulatedSubmitter crea el submitter simulado.
func NewSimulatedSubmitter() *SimulatedSubmitter {
	return &SimulatedSubmitter{}
}

// Submit devuelve un veredicto Correcto con una línea por cada RefExterna
// presente en el envelope.
func (s *SimulatedSubmitter) Submit(_ context.Context, payload []byte) (*pipeline.SubmitResult, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(payload); err != nil {
		return nil, fmt.Errorf("aeat: payload simulado inválido: %w", err)
	}
	result := &pipeline.SubmitResult{
		EstadoEnvio: pipeline.SubmitCorrecto,
		CSV:         "SIMULADO",
		Raw:         []byte("simulated"),
	}
	for _, ref := range doc.FindElements("//sum1:RefExterna") {
		result.Lines = append(result.Lines, pipeline.RecordOutcome{
			Ref:    ref.Text(),
			Estado: pipeline.LineaCorrecta,
		})
	}
	return result, nil
}
