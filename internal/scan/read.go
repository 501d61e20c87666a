package scan

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/saintfish/chardet"
	"golang.org/x/net/html/charset"

	"github.com/devtaskhq/devtask/internal/shared/utils"
)

// ReadManifest reads a manifest file with a size cap. Manifests are usually
// UTF-8; when they are not (BOMs, legacy editors, vendor tools), the encoding
// is detected and the bytes are decoded to UTF-8 before parsing.
func ReadManifest(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.Size() > utils.MaxManifestSize {
		return nil, fmt.Errorf("manifest %s is %d bytes, limit is %d", path, info.Size(), utils.MaxManifestSize)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if utf8.Valid(data) || hasXMLDeclaration(data) {
		return data, nil
	}
	return decode(data)
}

// hasXMLDeclaration reports whether the content opens with an XML
// declaration. Such documents name their own encoding and the XML decoder
// converts them itself, so transcoding here would make the declared label
// wrong.
func hasXMLDeclaration(data []byte) bool {
	trimmed := bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF})
	trimmed = bytes.TrimLeft(trimmed, " \t\r\n")
	return bytes.HasPrefix(trimmed, []byte("<?xml"))
}

// decode converts non-UTF-8 bytes using the best detected encoding. If the
// detector or decoder cannot handle the bytes, the original content is
// returned and the parser decides what to do with it.
func decode(data []byte) ([]byte, error) {
	best, err := chardet.NewTextDetector().DetectBest(data)
	if err != nil || best == nil || best.Charset == "" {
		return data, nil
	}

	reader, err := charset.NewReaderLabel(strings.ToLower(best.Charset), bytes.NewReader(data))
	if err != nil {
		return data, nil
	}
	decoded, err := io.ReadAll(reader)
	if err != nil {
		return data, nil
	}
	return decoded, nil
}
