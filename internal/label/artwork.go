package label

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	_ "image/gif"
	_ "image/png"

	"golang.org/x/image/draw"
)

// maxCoverSidePx caps the pixel size of embedded artwork. Labels are printed
// at ~30 mm, so anything beyond this only bloats the PDF.
const maxCoverSidePx = 600

// prepareCover decodes the downloaded artwork, downscales it when it is
// larger than maxCoverSidePx on its longer side, and re-encodes it as JPEG
// for embedding. Returns the encoded bytes and the final pixel dimensions.
func prepareCover(data []byte) ([]byte, int, int, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, 0, 0, fmt.Errorf("decoding cover image: %w", err)
	}

	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= 0 || h <= 0 {
		return nil, 0, 0, fmt.Errorf("cover image has empty bounds")
	}

	if w > maxCoverSidePx || h > maxCoverSidePx {
		scale := float64(maxCoverSidePx) / float64(w)
		if h > w {
			scale = float64(maxCoverSidePx) / float64(h)
		}
		dw := int(float64(w) * scale)
		dh := int(float64(h) * scale)
		if dw < 1 {
			dw = 1
		}
		if dh < 1 {
			dh = 1
		}
		dst := image.NewRGBA(image.Rect(0, 0, dw, dh))
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)
		src = dst
		w, h = dw, dh
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, src, &jpeg.Options{Quality: 90}); err != nil {
		return nil, 0, 0, fmt.Errorf("encoding cover image: %w", err)
	}
	return buf.Bytes(), w, h, nil
}
