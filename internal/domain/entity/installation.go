package entity

import "time"

// DefaultWaitSeconds es el intervalo mínimo base entre envíos de una misma
// instalación cuando la AEAT aún no ha dictado otro.
const DefaultWaitSeconds = 60

// Installation es un despliegue de facturación de un cliente: la unidad de
// alcance del lock, del control de flujo y de la cadena de huellas.
type Installation struct {
	ID              string
	Name            string
	NIF             string // NIF del emisor (IDEmisorFactura en la cadena canónica)
	APIKeyHash      string // hash bcrypt de la clave de intake
	LastSendAt      *time.Time
	LastWaitSeconds int // intervalo dictado por la AEAT; 0 = usar el base
	PendingCount    int // derivado: registros en PENDIENTE (lo pueblan las consultas de elegibilidad)
	Active          bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// WaitSeconds devuelve el intervalo de espera efectivo.
func (i *Installation) WaitSeconds() int {
	if i.LastWaitSeconds <= 0 {
		return DefaultWaitSeconds
	}
	return i.LastWaitSeconds
}

// ReadyToSend evalúa el control de flujo: ha pasado el intervalo dictado por
// la AEAT desde el último envío. Una instalación que nunca envió está lista.
func (i *Installation) ReadyToSend(now time.Time) bool {
	if i.LastSendAt == nil {
		return true
	}
	return now.Sub(*i.LastSendAt) >= time.Duration(i.WaitSeconds())*time.Second
}
