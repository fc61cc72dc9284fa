package cropper

import (
	"fmt"
	"strconv"
	"strings"
)

// AspectRatio represents an aspect preset. A zero Width or Height means free.
type AspectRatio struct {
	Width  int
	Height int
	Name   string
}

// Aspect presets offered by the editor
var (
	Widescreen = AspectRatio{16, 9, "widescreen"}
	Landscape  = AspectRatio{4, 3, "landscape"}
	Square     = AspectRatio{1, 1, "square"}
	Free       = AspectRatio{0, 0, "free"}
)

// CommonAspectRatios returns the presets in the order the editor lists them
func CommonAspectRatios() []AspectRatio {
	return []AspectRatio{Widescreen, Landscape, Square, Free}
}

// Ratio returns width/height, or 0 for free.
func (a AspectRatio) Ratio() float64 {
	if a.IsFree() {
		return 0
	}
	return float64(a.Width) / float64(a.Height)
}

// IsFree reports whether the preset leaves the crop unconstrained.
func (a AspectRatio) IsFree() bool {
	return a.Width <= 0 || a.Height <= 0
}

func (a AspectRatio) String() string {
	if a.IsFree() {
		return "free"
	}
	return fmt.Sprintf("%d:%d", a.Width, a.Height)
}

// ParseAspect accepts a preset name ("square"), a ratio ("16:9") or "free".
func ParseAspect(s string) (AspectRatio, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" || s == "free" {
		return Free, nil
	}
	for _, a := range CommonAspectRatios() {
		if s == a.Name || s == a.String() {
			return a, nil
		}
	}

	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return AspectRatio{}, fmt.Errorf("invalid aspect ratio %q (want W:H or one of widescreen, landscape, square, free)", s)
	}
	w, err := strconv.Atoi(parts[0])
	if err != nil || w <= 0 {
		return AspectRatio{}, fmt.Errorf("invalid aspect width in %q", s)
	}
	h, err := strconv.Atoi(parts[1])
	if err != nil || h <= 0 {
		return AspectRatio{}, fmt.Errorf("invalid aspect height in %q", s)
	}
	return AspectRatio{Width: w, Height: h, Name: s}, nil
}
