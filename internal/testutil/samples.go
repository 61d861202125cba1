package testutil

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"strconv"
)

// Signatures of the embedded image formats.
var (
	JP2Signature  = []byte{0x00, 0x00, 0x00, 0x0C, 0x6A, 0x50, 0x20, 0x20, 0x0D, 0x0A, 0x87, 0x0A}
	WSQSignature  = []byte{0xFF, 0xA0}
	JPEGSignature = []byte{0xFF, 0xD8, 0xFF}
)

// JPEG returns a real baseline JPEG of the given size.
func JPEG(w, h int) []byte {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetGray(x, y, color.Gray{Y: uint8((x*7 + y*13) % 256)})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// WSQ returns a WSQ-signed payload with a SOF segment carrying w and h.
// It is not decodable image data.
func WSQ(w, h int) []byte {
	out := append([]byte(nil), WSQSignature...)
	// SOF: marker, Lf=17, black, white, Y, X, Em, M, Er, R, encoder, software
	sof := []byte{0xFF, 0xA2, 0x00, 0x11, 0x00, 0xFF}
	sof = append(sof, byte(h>>8), byte(h), byte(w>>8), byte(w))
	sof = append(sof, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x02, 0x00, 0x00)
	out = append(out, sof...)
	return append(out, 0xFF, 0xA1)
}

// JP2 returns a payload that begins with the JPEG 2000 signature box.
func JP2() []byte {
	out := append([]byte(nil), JP2Signature...)
	return append(out, 0x00, 0x00, 0x00, 0x14, 'f', 't', 'y', 'p', 'j', 'p', '2', ' ')
}

// DefaultDemographics holds a complete Type-2 demographic set keyed by field
// number.
func DefaultDemographics() map[int]string {
	return map[int]string{
		18: "DOE,JOHN Q",
		20: "CA",
		22: "19800115",
		24: "M",
		25: "W",
		27: "510",
		29: "180",
		31: "BRO",
		32: "BLK",
		37: "EMPLOYMENT",
		38: "20240301",
		41: "123 MAIN ST",
	}
}

// FD258Positions are the rolled and slap positions of a complete card.
var FD258Positions = []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 13, 14, 15}

// Sample describes a synthetic fingerprint transaction.
type Sample struct {
	TOT          string
	Positions    []int
	Demographics map[int]string
	Compression  string
	// Payload returns the image bytes for a position. Nil means JPEG.
	Payload func(position int) []byte
}

// Build encodes the sample: Type-1, Type-2 and one Type-14 record per
// position.
func (s Sample) Build() []byte {
	b := NewBuilder().Type1(
		F(2, "0502"),
		F(4, s.TOT),
		F(5, "20240301"),
		F(7, "WVMEDS001"),
		F(8, "WVATF0800"),
		F(9, "TCN-0001"),
	)
	var t2 []Field
	for num, val := range s.Demographics {
		t2 = append(t2, F(num, val))
	}
	b.Tagged(2, 0, t2...)

	compression := s.Compression
	if compression == "" {
		compression = "JPEGB"
	}
	payload := s.Payload
	if payload == nil {
		payload = func(int) []byte { return JPEG(16, 16) }
	}
	for i, pos := range s.Positions {
		b.Tagged(14, i+1,
			F(3, "0"),
			F(4, "TESTAGENCY"),
			F(5, "20240301"),
			F(6, "16"),
			F(7, "16"),
			F(8, "1"),
			F(9, "500"),
			F(10, "500"),
			F(11, compression),
			F(12, "8"),
			F(13, strconv.Itoa(pos)),
			Raw(999, payload(pos)),
		)
	}
	return b.Bytes()
}

// FD258 returns a complete FAUF transaction with JPEG images.
func FD258() []byte {
	return Sample{
		TOT:          "FAUF",
		Positions:    FD258Positions,
		Demographics: DefaultDemographics(),
	}.Build()
}
