package document

import (
	"errors"
	"fmt"

	qrcode "github.com/skip2/go-qrcode"
)

const (
	MinQRSize     = 128
	MaxQRSize     = 1024
	DefaultQRSize = 256
)

// ErrQRSize is returned for a size outside MinQRSize..MaxQRSize
var ErrQRSize = errors.New("qr code size out of range")

// MeterQRCode encodes a meter id as a PNG QR code, size pixels square. The
// capture form scans it to fill in meter_id.
func MeterQRCode(meterID string, size int) ([]byte, error) {
	if size < MinQRSize || size > MaxQRSize {
		return nil, fmt.Errorf("%w: %d not in %d..%d", ErrQRSize, size, MinQRSize, MaxQRSize)
	}
	png, err := qrcode.Encode(meterID, qrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("failed to encode qr code: %w", err)
	}
	return png, nil
}
