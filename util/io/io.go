package io

import "io"

// WriteFull writes the whole buffer, retrying short writes.
func WriteFull(w io.Writer, buf []byte) error {
	for len(buf) > 0 {
		n, err := w.Write(buf)
		if err != nil {
			return err
		}
		buf = buf[n:]
	}
	return nil
}
