package aeat

import (
	"crypto/tls"
	"fmt"
)

// LoadCertFromPEM carga el certificado de sello y su llave privada desde
// archivos PEM. Si certPath está vacío retorna cert vacío y err nil (modo
// simulado: no hay mTLS).
func LoadCertFromPEM(certPath, keyPath string) (tls.Certificate, error) {
	if certPath == "" {
		return tls.Certificate{}, nil
	}
	if keyPath == "" {
		// Un solo archivo puede contener cert+key en PEM
		return tls.LoadX509KeyPair(certPath, certPath)
	}
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("cargar certificado AEAT: %w", err)
	}
	return cert, nil
}
