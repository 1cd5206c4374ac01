package classifier

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// InputSize is the square edge length the model was trained on
const InputSize = 224

// Tensor is a height x width x RGB raster with channel values in [0,1]
type Tensor [][][3]float32

// Preprocess decodes image bytes and turns them into the model's input tensor
func Preprocess(data []byte) (Tensor, error) {
	src, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUndecodableImage, err)
	}
	if src.Bounds().Empty() {
		return nil, fmt.Errorf("%w: empty %s image", ErrUndecodableImage, format)
	}

	dst := image.NewRGBA(image.Rect(0, 0, InputSize, InputSize))
	draw.BiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)

	t := make(Tensor, InputSize)
	for y := 0; y < InputSize; y++ {
		row := make([][3]float32, InputSize)
		for x := 0; x < InputSize; x++ {
			c := dst.RGBAAt(x, y)
			row[x] = [3]float32{
				float32(c.R) / 255,
				float32(c.G) / 255,
				float32(c.B) / 255,
			}
		}
		t[y] = row
	}
	return t, nil
}
