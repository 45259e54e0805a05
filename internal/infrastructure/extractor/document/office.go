package document

import "github.com/lu4p/cat"

// extractWordProcessing reads .docx, .odt and .rtf bodies.
func extractWordProcessing(path string) (string, error) {
	text, err := cat.File(path)
	if err != nil {
		return "", err
	}
	if len(text) > maxTextBytes {
		text = text[:maxTextBytes]
	}
	return text, nil
}
