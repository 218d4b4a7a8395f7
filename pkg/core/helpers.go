package core

import (
	"errors"
	"strconv"
	"strings"
)

// Atoi - skip error
func Atoi(s string) (i int) {
	if s != "" {
		i, _ = strconv.Atoi(s)
	}
	return
}

// ParseSize support "640x480" and "640X480"
func ParseSize(s string) (width, height uint, err error) {
	i := strings.IndexAny(s, "xX")
	if i <= 0 {
		return 0, 0, errors.New("core: wrong size: " + s)
	}

	w, err1 := strconv.ParseUint(s[:i], 10, 32)
	h, err2 := strconv.ParseUint(s[i+1:], 10, 32)
	if err = errors.Join(err1, err2); err != nil {
		return 0, 0, err
	}
	if w == 0 || h == 0 {
		return 0, 0, errors.New("core: wrong size: " + s)
	}

	return uint(w), uint(h), nil
}
