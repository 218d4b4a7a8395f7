package device

const (
	V4L2_PIX_FMT_YUV420 = 'Y' | 'U'<<8 | '1'<<16 | '2'<<24
	V4L2_PIX_FMT_GREY   = 'G' | 'R'<<8 | 'E'<<16 | 'Y'<<24
	V4L2_PIX_FMT_RGBA32 = 'A' | 'B'<<8 | '2'<<16 | '4'<<24
	V4L2_PIX_FMT_YUYV   = 'Y' | 'U'<<8 | 'Y'<<16 | 'V'<<24
	V4L2_PIX_FMT_MJPEG  = 'M' | 'J'<<8 | 'P'<<16 | 'G'<<24
)

type Format struct {
	FourCC uint32
	Name   string
}

var Formats = []Format{
	{V4L2_PIX_FMT_YUV420, "Planar YUV 4:2:0"},
	{V4L2_PIX_FMT_GREY, "8-bit Greyscale"},
	{V4L2_PIX_FMT_RGBA32, "32-bit RGBA 8-8-8-8"},
	{V4L2_PIX_FMT_YUYV, "YUV 4:2:2"},
	{V4L2_PIX_FMT_MJPEG, "Motion-JPEG"},
}

// FormatName return human name or FourCC string for unknown format.
func FormatName(fourCC uint32) string {
	for _, format := range Formats {
		if format.FourCC == fourCC {
			return format.Name
		}
	}
	return string([]byte{byte(fourCC), byte(fourCC >> 8), byte(fourCC >> 16), byte(fourCC >> 24)})
}
