package aeat

import (
	"fmt"

	"github.com/beevik/etree"

	"github.com/jhoicas/verifactu-hub/internal/application/pipeline"
	"github.com/jhoicas/verifactu-hub/internal/domain/entity"
)

// ── Namespaces y constantes del esquema VeriFactu ──────────────────────────────

const (
	// NsSoapEnv namespace del envelope SOAP 1.1.
	NsSoapEnv = "http://schemas.xmlsoap.org/soap/envelope/"
	// NsSum namespace del mensaje de suministro (SuministroLR).
	NsSum = "https://www2.agenciatributaria.gob.es/static_files/common/internet/dep/aplicaciones/es/aeat/tike/cont/ws/SuministroLR.xsd"
	// NsSum1 namespace de los tipos de información (SuministroInformacion).
	NsSum1 = "https://www2.agenciatributaria.gob.es/static_files/common/internet/dep/aplicaciones/es/aeat/tike/cont/ws/SuministroInformacion.xsd"

	// IDVersion versión del esquema de registros de facturación.
	IDVersion = "1.0"
	// TipoHuellaSHA256 identificador del algoritmo de huella (01 = SHA-256).
	TipoHuellaSHA256 = "01"

	fechaLayout     = "02-01-2006"
	timestampLayout = "2006-01-02T15:04:05-07:00"
)

// SistemaInformatico identifica este software de facturación ante la AEAT.
// Los valores los asigna el productor del software al darse de alta.
type SistemaInformatico struct {
	NombreRazon string
	NIF         string
	Nombre      string
	ID          string
	Version     string
}

var _ pipeline.Renderer = (*XMLBuilderService)(nil)

// XMLBuilderService construye el mensaje RegFactuSistemaFacturacion de un lote:
// cabecera del obligado más un RegistroFactura por registro, en el orden de la
// cadena de huellas.
type XMLBuilderService struct {
	sistema SistemaInformatico
}

// NewXMLBuilderService crea el servicio con la identificación del sistema.
func NewXMLBuilderService(sistema SistemaInformatico) *XMLBuilderService {
	return &XMLBuilderService{sistema: sistema}
}

// Render genera el envelope SOAP completo del envío.
func (s *XMLBuilderService) Render(installation *entity.Installation, batch *entity.Batch, records []*entity.InvoiceRecord) ([]byte, error) {
	if installation == nil || batch == nil {
		return nil, fmt.Errorf("aeat: faltan installation o batch")
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("aeat: lote %s sin registros", batch.ID)
	}

	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	envelope := doc.CreateElement("soapenv:Envelope")
	envelope.CreateAttr("xmlns:soapenv", NsSoapEnv)
	envelope.CreateAttr("xmlns:sum", NsSum)
	envelope.CreateAttr("xmlns:sum1", NsSum1)
	envelope.CreateElement("soapenv:Header")
	body := envelope.CreateElement("soapenv:Body")

	regFactu := body.CreateElement("sum:RegFactuSistemaFacturacion")

	cabecera := regFactu.CreateElement("sum:Cabecera")
	obligado := cabecera.CreateElement("sum1:ObligadoEmision")
	obligado.CreateElement("sum1:NombreRazon").SetText(installation.Name)
	obligado.CreateElement("sum1:NIF").SetText(installation.NIF)

	for _, record := range records {
		registro := regFactu.CreateElement("sum:RegistroFactura")
		switch record.Kind {
		case entity.RecordKindAlta:
			s.writeAlta(registro, installation, record)
		case entity.RecordKindAnulacion:
			s.writeAnulacion(registro, installation, record)
		default:
			return nil, fmt.Errorf("aeat: tipo de registro desconocido %q (registro %s)", record.Kind, record.ID)
		}
	}

	doc.Indent(2)
	return doc.WriteToBytes()
}

func (s *XMLBuilderService) writeAlta(parent *etree.Element, installation *entity.Installation, record *entity.InvoiceRecord) {
	alta := parent.CreateElement("sum1:RegistroAlta")
	alta.CreateElement("sum1:IDVersion").SetText(IDVersion)

	idFactura := alta.CreateElement("sum1:IDFactura")
	idFactura.CreateElement("sum1:IDEmisorFactura").SetText(installation.NIF)
	idFactura.CreateElement("sum1:NumSerieFactura").SetText(record.Serie + record.Numero)
	idFactura.CreateElement("sum1:FechaExpedicionFactura").SetText(record.FechaExpedicion.Format(fechaLayout))

	// RefExterna casa la línea de respuesta con el registro local.
	alta.CreateElement("sum1:RefExterna").SetText(record.ExternalRef())
	alta.CreateElement("sum1:NombreRazonEmisor").SetText(installation.Name)
	alta.CreateElement("sum1:TipoFactura").SetText(record.TipoFactura)
	alta.CreateElement("sum1:CuotaTotal").SetText(record.CuotaTotal.Round(2).String())
	alta.CreateElement("sum1:ImporteTotal").SetText(record.ImporteTotal.Round(2).String())

	s.writeEncadenamiento(alta, installation, record)
	s.writeSistema(alta)
	alta.CreateElement("sum1:FechaHoraHusoGenRegistro").SetText(record.GeneradoEn.Format(timestampLayout))
	alta.CreateElement("sum1:TipoHuella").SetText(TipoHuellaSHA256)
	alta.CreateElement("sum1:Huella").SetText(record.Huella)
}

func (s *XMLBuilderService) writeAnulacion(parent *etree.Element, installation *entity.Installation, record *entity.InvoiceRecord) {
	anulacion := parent.CreateElement("sum1:RegistroAnulacion")
	anulacion.CreateElement("sum1:IDVersion").SetText(IDVersion)

	idFactura := anulacion.CreateElement("sum1:IDFactura")
	idFactura.CreateElement("sum1:IDEmisorFacturaAnulada").SetText(installation.NIF)
	idFactura.CreateElement("sum1:NumSerieFacturaAnulada").SetText(record.Serie + record.Numero)
	idFactura.CreateElement("sum1:FechaExpedicionFacturaAnulada").SetText(record.FechaExpedicion.Format(fechaLayout))

	anulacion.CreateElement("sum1:RefExterna").SetText(record.ExternalRef())

	s.writeEncadenamiento(anulacion, installation, record)
	s.writeSistema(anulacion)
	anulacion.CreateElement("sum1:FechaHoraHusoGenRegistro").SetText(record.GeneradoEn.Format(timestampLayout))
	anulacion.CreateElement("sum1:TipoHuella").SetText(TipoHuellaSHA256)
	anulacion.CreateElement("sum1:Huella").SetText(record.Huella)
}

func (s *XMLBuilderService) writeEncadenamiento(parent *etree.Element, installation *entity.Installation, record *entity.InvoiceRecord) {
	encadenamiento := parent.CreateElement("sum1:Encadenamiento")
	if record.HuellaAnterior == "" {
		encadenamiento.CreateElement("sum1:PrimerRegistro").SetText("S")
		return
	}
	anterior := encadenamiento.CreateElement("sum1:RegistroAnterior")
	anterior.CreateElement("sum1:IDEmisorFactura").SetText(installation.NIF)
	anterior.CreateElement("sum1:Huella").SetText(record.HuellaAnterior)
}

func (s *XMLBuilderService) writeSistema(parent *etree.Element) {
	sistema := parent.CreateElement("sum1:SistemaInformatico")
	sistema.CreateElement("sum1:NombreRazon").SetText(s.sistema.NombreRazon)
	sistema.CreateElement("sum1:NIF").SetText(s.sistema.NIF)
	sistema.CreateElement("sum1:NombreSistemaInformatico").SetText(s.sistema.Nombre)
	sistema.CreateElement("sum1:IdSistemaInformatico").SetText(s.sistema.ID)
	sistema.CreateElement("sum1:Version").SetText(s.sistema.Version)
}
