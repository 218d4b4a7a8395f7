package mjpeg

import (
	"bytes"
	"image"
	"image/jpeg"
	"sync"
)

const (
	markerSOI = 0xD8 // Start Of Image
	markerEOI = 0xD9 // End Of Image
)

const DefaultQuality = 75

var pool = sync.Pool{
	New: func() any {
		return bytes.NewBuffer(make([]byte, 0, 64*1024))
	},
}

// Encode copies image to new JPEG, so source buffer can be released right after.
func Encode(img image.Image, quality int) ([]byte, error) {
	if quality <= 0 || quality > 100 {
		quality = DefaultQuality
	}

	buf := pool.Get().(*bytes.Buffer)
	defer pool.Put(buf)
	buf.Reset()

	if err := jpeg.Encode(buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}

	return bytes.Clone(buf.Bytes()), nil
}

func IsJPEG(b []byte) bool {
	n := len(b)
	return n >= 4 && b[0] == 0xFF && b[1] == markerSOI && b[n-2] == 0xFF && b[n-1] == markerEOI
}
