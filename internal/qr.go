package internal

import (
	"github.com/skip2/go-qrcode"
)

const qrSize = 256

// ReferralQRCode renders link as a PNG QR code
func ReferralQRCode(link string) ([]byte, error) {
	return qrcode.Encode(link, qrcode.Medium, qrSize)
}
