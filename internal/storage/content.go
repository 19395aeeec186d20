package storage

import "github.com/gabriel-vasile/mimetype"

// DetectContentType sniffs the MIME type of stored image bytes.
func DetectContentType(data []byte) string {
	return mimetype.Detect(data).String()
}
