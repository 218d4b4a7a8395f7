package v4l2

import (
	"fmt"

	"github.com/usedbytes/picamera/pkg/v4l2/device"
)

// Probe opens device only for reading its capabilities.
func Probe(path string) (*Info, error) {
	dev, err := device.Open(path)
	if err != nil {
		return nil, err
	}
	defer dev.Close()

	c, err := dev.Capability()
	if err != nil {
		return nil, err
	}

	info := &Info{Path: path, Driver: c.Driver, Card: c.Card}

	formats, err := dev.ListFormats()
	if err != nil {
		return nil, err
	}

	for _, fourCC := range formats {
		format := Format{
			FourCC: string([]byte{byte(fourCC), byte(fourCC >> 8), byte(fourCC >> 16), byte(fourCC >> 24)}),
			Name:   device.FormatName(fourCC),
		}

		sizes, _ := dev.ListSizes(fourCC)
		for _, size := range sizes {
			format.Sizes = append(format.Sizes, fmt.Sprintf("%dx%d", size[0], size[1]))
		}

		info.Formats = append(info.Formats, format)
	}

	return info, nil
}
