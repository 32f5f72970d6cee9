// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package util

import "bytes"

// Magic-byte signatures for the image formats the providers accept.
var (
	pngSignature  = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}
	jpegSignature = []byte{0xff, 0xd8, 0xff}
	gif87aHeader  = []byte("GIF87a")
	gif89aHeader  = []byte("GIF89a")
	riffHeader    = []byte("RIFF")
	webpMarker    = []byte("WEBP")
)

// DetectImageFormat sniffs the image format from magic bytes.
// Recognized formats are "png", "jpeg", "gif", and "webp"; anything else
// defaults to "png".
func DetectImageFormat(data []byte) string {
	switch {
	case bytes.HasPrefix(data, pngSignature):
		return "png"
	case bytes.HasPrefix(data, jpegSignature):
		return "jpeg"
	case bytes.HasPrefix(data, gif87aHeader), bytes.HasPrefix(data, gif89aHeader):
		return "gif"
	case bytes.HasPrefix(data, riffHeader) && len(data) >= 12 && bytes.Equal(data[8:12], webpMarker):
		return "webp"
	default:
		return "png"
	}
}

// ImageMIMEType returns the MIME type for image data based on magic-byte
// sniffing.
func ImageMIMEType(data []byte) string {
	return "image/" + DetectImageFormat(data)
}
