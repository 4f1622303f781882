package utils

import "io"

// TryClose closes v if it is an io.Closer and does nothing otherwise.
func TryClose(v interface{}) error {
	if closer, ok := v.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
