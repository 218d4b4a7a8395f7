//go:build !unix

package fake

func mmap(size int) ([]byte, error) {
	return make([]byte, size), nil
}

func munmap([]byte) error {
	return nil
}
