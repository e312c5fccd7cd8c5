package program

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"sort"
	"time"
)

func init() {
	gob.Register(&Image{})
	gob.Register(map[string][]byte{})
}

// Image is a serialized program snapshot: the root library and the source
// of every library, enough to recompile the program identically.
type Image struct {
	// Root is the URI of the root library
	Root string

	// Generation is the program generation the image was taken from
	Generation uint64

	// Sources maps library URI -> YAML source
	Sources map[string][]byte

	// Hashes maps library URI -> source hash recorded at compile time
	Hashes map[string]string

	// TakenAt is when the snapshot was made
	TakenAt time.Time
}

const imageVersion byte = 0x01

// imageMagic opens every serialized image
var imageMagic = [4]byte{'H', 'R', 'L', 'I'}

// Snapshot captures the sources of a compiled program. The core library is
// built in and never included.
func Snapshot(p *Program) *Image {
	img := &Image{
		Root:       p.Root,
		Generation: p.Generation,
		Sources:    map[string][]byte{},
		Hashes:     map[string]string{},
		TakenAt:    time.Now(),
	}
	for _, l := range p.Libraries() {
		if l.Source == nil {
			continue
		}
		img.Sources[l.URI] = l.Source
		img.Hashes[l.URI] = l.Hash
	}
	return img
}

// URIs returns the library URIs of the image in sorted order.
func (img *Image) URIs() []string {
	out := make([]string, 0, len(img.Sources))
	for uri := range img.Sources {
		out = append(out, uri)
	}
	sort.Strings(out)
	return out
}

// Serialize converts an Image to binary format.
// Format:
// - Magic number (4 bytes): "HRLI"
// - Version (1 byte): 0x01
// - Gob-encoded Image data
func (img *Image) Serialize() ([]byte, error) {
	buf := new(bytes.Buffer)
	buf.Write(imageMagic[:])
	buf.WriteByte(imageVersion)

	enc := gob.NewEncoder(buf)
	if err := enc.Encode(img); err != nil {
		return nil, fmt.Errorf("image gob encoding failed: %w", err)
	}
	return buf.Bytes(), nil
}

// DeserializeImage reads data produced by Serialize.
func DeserializeImage(data []byte) (*Image, error) {
	if len(data) < 5 {
		return nil, fmt.Errorf("image data too short")
	}
	if !bytes.Equal(data[:4], imageMagic[:]) {
		return nil, fmt.Errorf("invalid magic number, expected HRLI")
	}
	if data[4] != imageVersion {
		return nil, fmt.Errorf("unsupported image version: %d (this binary supports version %d)", data[4], imageVersion)
	}

	var img Image
	if err := gob.NewDecoder(bytes.NewReader(data[5:])).Decode(&img); err != nil {
		return nil, fmt.Errorf("image gob decoding failed: %w", err)
	}
	if img.Sources == nil {
		img.Sources = map[string][]byte{}
	}
	if img.Hashes == nil {
		img.Hashes = map[string]string{}
	}
	if err := img.Validate(); err != nil {
		return nil, fmt.Errorf("image validation failed: %w", err)
	}
	return &img, nil
}

// Validate checks that the root library is part of the image.
func (img *Image) Validate() error {
	if img.Root == "" {
		return fmt.Errorf("image has no root library")
	}
	if _, ok := img.Sources[img.Root]; !ok {
		return fmt.Errorf("root library %q missing from image", img.Root)
	}
	return nil
}

// IsImage reports whether data starts with the image magic.
func IsImage(data []byte) bool {
	return len(data) >= 5 && bytes.Equal(data[:4], imageMagic[:])
}
