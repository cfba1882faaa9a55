package backup

import (
	"errors"
	"strings"

	skipqrcode "github.com/skip2/go-qrcode"
)

var (
	// ErrEmptyContent is returned when there is nothing to encode.
	ErrEmptyContent = errors.New("backup: qr content cannot be empty")
	// ErrQRCode is returned when the QR encoder fails.
	ErrQRCode = errors.New("backup: failed to generate qr code")
)

const defaultQRSize = 256

// QRCode renders content as a PNG image of size x size pixels.
func QRCode(content string, size int) ([]byte, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyContent
	}
	if size <= 0 {
		size = defaultQRSize
	}
	png, err := skipqrcode.Encode(content, skipqrcode.Medium, size)
	if err != nil {
		return nil, errors.Join(ErrQRCode, err)
	}
	return png, nil
}

// QRCodeText renders content as block characters for a terminal.
func QRCodeText(content string) (string, error) {
	if strings.TrimSpace(content) == "" {
		return "", ErrEmptyContent
	}
	qr, err := skipqrcode.New(content, skipqrcode.Low)
	if err != nil {
		return "", errors.Join(ErrQRCode, err)
	}
	return qr.ToSmallString(false), nil
}
