// Package textenc converts legacy-encoded HTML into UTF-8 text.
package textenc

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html/charset"
)

// ToUTF8 decodes body using the charset named by contentType, a <meta>
// declaration, or content sniffing, in that order.
func ToUTF8(body []byte, contentType string) (string, error) {
	if len(body) == 0 {
		return "", nil
	}
	reader, err := charset.NewReader(bytes.NewReader(body), contentType)
	if err != nil {
		return "", fmt.Errorf("select charset: %w", err)
	}
	decoded, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("decode body: %w", err)
	}
	return string(decoded), nil
}

// ContainsAny reports whether text contains any of needles. Empty needles
// never match.
func ContainsAny(text string, needles []string) (string, bool) {
	for _, n := range needles {
		if n == "" {
			continue
		}
		if strings.Contains(text, n) {
			return n, true
		}
	}
	return "", false
}
