// Package verifactu: cálculo de la huella (hash encadenado) de los registros
// de facturación según la especificación VERI*FACTU de la AEAT.
// Algoritmo: SHA-256 sobre la cadena canónica `nombre=valor&...` en orden estricto.

package verifactu

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Formatos de fecha y hora exigidos por la cadena canónica.
const (
	fechaLayout     = "02-01-2006"                // FechaExpedicionFactura: dd-mm-yyyy
	timestampLayout = "2006-01-02T15:04:05-07:00" // FechaHoraHusoGenRegistro: con huso horario
)

// HuellaLen es la longitud del hash hexadecimal (SHA-256 → 64 nibbles).
const HuellaLen = 64

var huellaPattern = regexp.MustCompile(`^[0-9A-F]{64}$`)

// AltaParams contiene los campos de un registro de alta en el orden exigido
// para la cadena canónica de la huella.
type AltaParams struct {
	IDEmisor        string          // NIF del emisor de la factura
	NumSerieFactura string          // Serie + número, sin espacios
	FechaExpedicion time.Time       // Fecha de expedición de la factura
	TipoFactura     string          // F1, F2, R1..R5, F3
	CuotaTotal      decimal.Decimal // Cuota tributaria total
	ImporteTotal    decimal.Decimal // Importe total de la factura
	HuellaAnterior  string          // Huella del registro anterior; vacía para el primero
	GeneradoEn      time.Time       // Instante de generación del registro
}

// AnulacionParams contiene los campos de un registro de anulación.
type AnulacionParams struct {
	IDEmisor        string
	NumSerieFactura string
	FechaExpedicion time.Time
	HuellaAnterior  string
	GeneradoEn      time.Time
}

// HuellaService calcula la huella encadenada. Puro y determinista: sin red,
// sin almacenamiento, mismo input → mismo output.
type HuellaService struct{}

// NewHuellaService crea el servicio.
func NewHuellaService() *HuellaService {
	return &HuellaService{}
}

// Alta genera la huella de un registro de alta.
// Cadena: IDEmisorFactura=..&NumSerieFactura=..&FechaExpedicionFactura=..&TipoFactura=..&
// CuotaTotal=..&ImporteTotal=..&Huella=..&FechaHoraHusoGenRegistro=.. (sin separador final).
// Devuelve el digest SHA-256 en hexadecimal mayúsculas (64 caracteres).
func (s *HuellaService) Alta(p *AltaParams) (string, error) {
	if p == nil {
		return "", fmt.Errorf("verifactu: AltaParams es obligatorio")
	}
	emisor, numSerie, err := validarIdentidad(p.IDEmisor, p.NumSerieFactura)
	if err != nil {
		return "", err
	}
	if p.TipoFactura == "" {
		return "", fmt.Errorf("verifactu: TipoFactura es obligatorio")
	}
	if err := validarFechas(p.FechaExpedicion, p.GeneradoEn); err != nil {
		return "", err
	}
	if err := validarHuellaAnterior(p.HuellaAnterior); err != nil {
		return "", err
	}

	cadena := "IDEmisorFactura=" + emisor +
		"&NumSerieFactura=" + numSerie +
		"&FechaExpedicionFactura=" + p.FechaExpedicion.Format(fechaLayout) +
		"&TipoFactura=" + strings.TrimSpace(p.TipoFactura) +
		"&CuotaTotal=" + formatAmount(p.CuotaTotal) +
		"&ImporteTotal=" + formatAmount(p.ImporteTotal) +
		"&Huella=" + p.HuellaAnterior +
		"&FechaHoraHusoGenRegistro=" + p.GeneradoEn.Format(timestampLayout)

	return digest(cadena), nil
}

// Anulacion genera la huella de un registro de anulación.
// Cadena: IDEmisorFacturaAnulada=..&NumSerieFacturaAnulada=..&FechaExpedicionFacturaAnulada=..&
// Huella=..&FechaHoraHusoGenRegistro=..
func (s *HuellaService) Anulacion(p *AnulacionParams) (string, error) {
	if p == nil {
		return "", fmt.Errorf("verifactu: AnulacionParams es obligatorio")
	}
	emisor, numSerie, err := validarIdentidad(p.IDEmisor, p.NumSerieFactura)
	if err != nil {
		return "", err
	}
	if err := validarFechas(p.FechaExpedicion, p.GeneradoEn); err != nil {
		return "", err
	}
	if err := validarHuellaAnterior(p.HuellaAnterior); err != nil {
		return "", err
	}

	cadena := "IDEmisorFacturaAnulada=" + emisor +
		"&NumSerieFacturaAnulada=" + numSerie +
		"&FechaExpedicionFacturaAnulada=" + p.FechaExpedicion.Format(fechaLayout) +
		"&Huella=" + p.HuellaAnterior +
		"&FechaHoraHusoGenRegistro=" + p.GeneradoEn.Format(timestampLayout)

	return digest(cadena), nil
}

// digest calcula SHA-256 sobre los bytes UTF-8 y devuelve hex en mayúsculas.
func digest(cadena string) string {
	hash := sha256.Sum256([]byte(cadena))
	return strings.ToUpper(hex.EncodeToString(hash[:]))
}

// formatAmount formatea importes para la cadena canónica: punto decimal, hasta
// dos decimales sin ceros de relleno, signo solo si es negativo (ej: 1500.5, -3).
func formatAmount(d decimal.Decimal) string {
	return d.Round(2).String()
}

func validarIdentidad(idEmisor, numSerie string) (string, string, error) {
	emisor := strings.TrimSpace(idEmisor)
	if emisor == "" {
		return "", "", fmt.Errorf("verifactu: IDEmisor es obligatorio")
	}
	num := regexp.MustCompile(`\s+`).ReplaceAllString(strings.TrimSpace(numSerie), "")
	if num == "" {
		return "", "", fmt.Errorf("verifactu: NumSerieFactura es obligatorio")
	}
	return emisor, num, nil
}

func validarFechas(fechaExpedicion, generadoEn time.Time) error {
	if fechaExpedicion.IsZero() {
		return fmt.Errorf("verifactu: FechaExpedicion es obligatoria")
	}
	if generadoEn.IsZero() {
		return fmt.Errorf("verifactu: GeneradoEn es obligatorio")
	}
	return nil
}

func validarHuellaAnterior(h string) error {
	if h == "" {
		return nil // primer registro de la cadena
	}
	if !huellaPattern.MatchString(h) {
		return fmt.Errorf("verifactu: HuellaAnterior malformada: %q", h)
	}
	return nil
}
