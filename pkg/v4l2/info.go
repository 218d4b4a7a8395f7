package v4l2

// Info describes capture device and its formats.
type Info struct {
	Path    string   `json:"path"`
	Driver  string   `json:"driver,omitempty"`
	Card    string   `json:"card,omitempty"`
	Formats []Format `json:"formats,omitempty"`
}

type Format struct {
	FourCC string   `json:"fourcc"`
	Name   string   `json:"name"`
	Sizes  []string `json:"sizes,omitempty"`
}
