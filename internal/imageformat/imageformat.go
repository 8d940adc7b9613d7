package imageformat

import (
	"bytes"
	"errors"
	"io"
	"os"
)

// Kind is the classification of a file's content.
type Kind int

const (
	Unsupported Kind = iota
	PNG
	JPEG
	JXL
)

func (k Kind) String() string {
	switch k {
	case PNG:
		return "png"
	case JPEG:
		return "jpeg"
	case JXL:
		return "jxl"
	default:
		return "unsupported"
	}
}

// Convertible reports whether the encoder accepts this kind as input.
func (k Kind) Convertible() bool {
	return k == PNG || k == JPEG
}

// AlreadyTarget reports whether the file is already JPEG XL.
func (k Kind) AlreadyTarget() bool {
	return k == JXL
}

// signatures maps leading magic bytes to a kind. Only the signature is
// checked; a damaged body is left for the encoder to reject.
var signatures = []struct {
	magic string
	kind  Kind
}{
	{"\x89PNG\r\n\x1a\n", PNG},
	{"\xff\xd8\xff", JPEG},
	{"\xff\x0a", JXL},
	{"\x00\x00\x00\x0cJXL \x0d\x0a\x87\x0a", JXL},
}

// headerLen is the longest signature.
const headerLen = 12

// Sniff classifies the file at path. Files that are readable but not a
// recognised image return Unsupported with a nil error; open and read
// failures are returned as-is so callers can detect os.ErrNotExist.
func Sniff(path string) (Kind, error) {
	f, err := os.Open(path)
	if err != nil {
		return Unsupported, err
	}
	defer f.Close()
	return SniffReader(f)
}

// SniffReader classifies the stream by its leading bytes.
func SniffReader(r io.Reader) (Kind, error) {
	header := make([]byte, headerLen)
	n, err := io.ReadFull(r, header)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return Unsupported, err
	}
	header = header[:n]
	for _, sig := range signatures {
		if bytes.HasPrefix(header, []byte(sig.magic)) {
			return sig.kind, nil
		}
	}
	return Unsupported, nil
}
