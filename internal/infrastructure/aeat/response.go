package aeat

import (
	"encoding/xml"
	"fmt"

	"github.com/jhoicas/verifactu-hub/internal/application/pipeline"
)

// ── Estructuras de respuesta SOAP (RespuestaSuministro) ───────────────────────

type soapResponseEnvelope struct {
	Body soapResponseBody `xml:"Body"`
}

type soapResponseBody struct {
	Respuesta *respuestaRegFactu `xml:"RespuestaRegFactuSistemaFacturacion"`
	Fault     *soapFault         `xml:"Fault"`
}

type soapFault struct {
	FaultCode   string `xml:"faultcode"`
	FaultString string `xml:"faultstring"`
}

type respuestaRegFactu struct {
	CSV               string           `xml:"CSV"`
	TiempoEsperaEnvio int              `xml:"TiempoEsperaEnvio"`
	EstadoEnvio       string           `xml:"EstadoEnvio"`
	Lineas            []respuestaLinea `xml:"RespuestaLinea"`
}

type respuestaLinea struct {
	RefExterna        string             `xml:"RefExterna"`
	EstadoRegistro    string             `xml:"EstadoRegistro"`
	CodigoError       string             `xml:"CodigoErrorRegistro"`
	DescripcionError  string             `xml:"DescripcionErrorRegistro"`
	RegistroDuplicado *registroDuplicado `xml:"RegistroDuplicado"`
}

type registroDuplicado struct {
	IDPeticion     string `xml:"IdPeticionRegistroDuplicado"`
	EstadoRegistro string `xml:"EstadoRegistroDuplicado"`
}

// ParseResponse desempaqueta la respuesta SOAP de la AEAT y la traduce al
// veredicto del pipeline. Un SOAP Fault o un cuerpo inesperado son fallos de
// transporte, no un veredicto: se devuelven como error.
func ParseResponse(raw []byte) (*pipeline.SubmitResult, error) {
	var envelope soapResponseEnvelope
	if err := xml.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("aeat: parsear respuesta SOAP: %w", err)
	}

	if envelope.Body.Fault != nil {
		return nil, fmt.Errorf("aeat: SOAP Fault [%s]: %s",
			envelope.Body.Fault.FaultCode, envelope.Body.Fault.FaultString)
	}

	respuesta := envelope.Body.Respuesta
	if respuesta == nil {
		return nil, fmt.Errorf("aeat: respuesta SOAP vacía o inesperada")
	}

	result := &pipeline.SubmitResult{
		EstadoEnvio: respuesta.EstadoEnvio,
		CSV:         respuesta.CSV,
		WaitSeconds: respuesta.TiempoEsperaEnvio,
		Raw:         raw,
	}
	for _, linea := range respuesta.Lineas {
		outcome := pipeline.RecordOutcome{
			Ref:         linea.RefExterna,
			Estado:      linea.EstadoRegistro,
			Codigo:      linea.CodigoError,
			Descripcion: linea.DescripcionError,
		}
		if linea.RegistroDuplicado != nil {
			outcome.Duplicado = true
			outcome.EstadoOriginal = linea.RegistroDuplicado.EstadoRegistro
		}
		result.Lines = append(result.Lines, outcome)
	}
	return result, nil
}
