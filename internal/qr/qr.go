// Package qr renders a pairing URL as a terminal QR code for the remote
// console's "scan this to attach" flow.
//
// Uses Unicode half-block characters for correct aspect ratio since
// terminal characters are approximately 2:1 (height:width).
package qr

import (
	"strings"

	"github.com/skip2/go-qrcode"
)

// PairingWidth and PairingHeight are the terminal dimensions the remote
// console's pairing prompt is laid out for (internal/remote.Console).
// A code that doesn't fit within them falls through to the plain-text
// pairing code printed alongside it.
const (
	PairingWidth  = 60
	PairingHeight = 30
)

// GenerateLines renders data as a QR code sized to fit within maxWidth x
// maxHeight terminal columns/rows, trying progressively lower error
// correction levels until one fits. If nothing fits, it returns a short
// explanatory message instead of QR output.
func GenerateLines(data string, maxWidth, maxHeight uint16) []string {
	levels := []qrcode.RecoveryLevel{
		qrcode.High,
		qrcode.Medium,
		qrcode.Low,
	}

	for _, level := range levels {
		qr, err := qrcode.New(data, level)
		if err != nil {
			continue
		}

		// Bitmap includes the quiet zone border.
		bitmap := qr.Bitmap()
		if len(bitmap) == 0 || len(bitmap[0]) == 0 {
			continue
		}

		size := len(bitmap)

		// Each QR module is 1 terminal column wide; each pair of QR rows
		// collapses into 1 terminal row via half-block characters.
		qrWidth := uint16(size)
		qrHeight := uint16((size + 1) / 2)

		if qrWidth <= maxWidth && qrHeight <= maxHeight {
			return renderHalfBlocks(bitmap, size)
		}
	}

	return []string{
		"pairing QR code does not fit this terminal",
		"resize the window, or use the pairing code printed below",
	}
}

// GeneratePairingLines renders the given pairing URL sized for the
// console's fixed PairingWidth x PairingHeight layout.
func GeneratePairingLines(pairingURL string) []string {
	return GenerateLines(pairingURL, PairingWidth, PairingHeight)
}

// renderHalfBlocks packs two QR module rows into one terminal row using
// ▀ (upper dark), ▄ (lower dark), █ (both dark), ' ' (neither).
func renderHalfBlocks(bitmap [][]bool, size int) []string {
	rowPairs := (size + 1) / 2
	lines := make([]string, 0, rowPairs)

	for rowPair := 0; rowPair < rowPairs; rowPair++ {
		upperY := rowPair * 2
		lowerY := rowPair*2 + 1

		var sb strings.Builder
		sb.Grow(size * 3) // UTF-8 block chars are 3 bytes

		for x := 0; x < size; x++ {
			upper := bitmap[upperY][x]
			lower := false
			if lowerY < size {
				lower = bitmap[lowerY][x]
			}

			var ch rune
			switch {
			case upper && lower:
				ch = '█'
			case upper && !lower:
				ch = '▀'
			case !upper && lower:
				ch = '▄'
			default:
				ch = ' '
			}
			sb.WriteRune(ch)
		}
		lines = append(lines, sb.String())
	}

	return lines
}
