package loaders

import (
	"bufio"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"

	"github.com/anthonynsimon/bild/clone"
	"github.com/h2non/filetype"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"

	"github.com/spaghettifunk/refract/engine/core"
)

// sniffLength covers the magic numbers of every image type filetype knows.
const sniffLength = 262

var supportedImages = map[string]bool{
	"png":  true,
	"jpg":  true,
	"bmp":  true,
	"tif":  true,
	"tiff": true,
}

// TextureParams tunes how a texture is prepared for upload.
type TextureParams struct {
	// MaxSize bounds the larger side in pixels; bigger images are scaled
	// down keeping their aspect ratio. Zero keeps the original size.
	MaxSize int
}

// DecodeTexture sniffs the image type from its magic number, decodes it
// and converts it to tightly packed RGBA.
func DecodeTexture(r io.Reader, params TextureParams) (*image.RGBA, error) {
	br := bufio.NewReaderSize(r, sniffLength)
	head, err := br.Peek(sniffLength)
	if err != nil && err != io.EOF && err != bufio.ErrBufferFull {
		return nil, fmt.Errorf("failed to read image header: %w", err)
	}
	kind, err := filetype.Image(head)
	if err != nil || kind == filetype.Unknown {
		return nil, fmt.Errorf("not an image: %w", core.ErrUnsupported)
	}
	if !supportedImages[kind.Extension] {
		return nil, fmt.Errorf("image type %s: %w", kind.MIME.Value, core.ErrUnsupported)
	}

	img, _, err := image.Decode(br)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s image: %w", kind.Extension, err)
	}
	rgba := clone.AsRGBA(img)
	if params.MaxSize > 0 {
		rgba = fit(rgba, params.MaxSize)
	}
	return rgba, nil
}

func fit(img *image.RGBA, maxSize int) *image.RGBA {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	if w <= maxSize && h <= maxSize {
		return img
	}
	if w >= h {
		w, h = maxSize, max(1, h*maxSize/w)
	} else {
		w, h = max(1, w*maxSize/h), maxSize
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Rect, img, img.Rect, draw.Src, nil)
	return dst
}

// LoadTexture reads and decodes the image at path.
func LoadTexture(path string, params TextureParams) (*image.RGBA, error) {
	f, err := os.Open(path)
	if err != nil {
		err = fmt.Errorf("failed to open texture `%s`: %w", path, err)
		core.LogWarn(err.Error())
		return nil, err
	}
	defer f.Close()

	img, err := DecodeTexture(f, params)
	if err != nil {
		err = fmt.Errorf("failed to load texture `%s`: %w", path, err)
		core.LogWarn(err.Error())
		return nil, err
	}
	return img, nil
}

type TextureLoader struct {
	Params TextureParams
}

func (tl *TextureLoader) Load(path string) (any, error) {
	return LoadTexture(path, tl.Params)
}
