package whatsapp

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/fogleman/gg"
	"rsc.io/qr"
)

const qrQuietZone = 4

// RenderQRPNG disegna il codice di associazione come PNG quadrato di lato size
func RenderQRPNG(code string, size int) ([]byte, error) {
	if code == "" {
		return nil, errors.New("codice QR vuoto")
	}
	encoded, err := qr.Encode(code, qr.L)
	if err != nil {
		return nil, fmt.Errorf("errore nella codifica del QR: %w", err)
	}

	modules := encoded.Size + 2*qrQuietZone
	if size < modules {
		size = modules
	}
	cell := float64(size) / float64(modules)

	dc := gg.NewContext(size, size)
	dc.SetRGB(1, 1, 1)
	dc.Clear()
	dc.SetRGB(0, 0, 0)
	for y := 0; y < encoded.Size; y++ {
		for x := 0; x < encoded.Size; x++ {
			if encoded.Black(x, y) {
				dc.DrawRectangle(float64(x+qrQuietZone)*cell, float64(y+qrQuietZone)*cell, cell, cell)
			}
		}
	}
	dc.Fill()

	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return nil, fmt.Errorf("errore nella generazione del PNG: %w", err)
	}
	return buf.Bytes(), nil
}
