package ftpget

import "io"

// ProgressWriter wraps an io.Writer and reports progress via a callback.
type ProgressWriter struct {
	// Writer is the underlying writer
	Writer io.Writer

	// Callback is called after each Write with the total bytes written
	Callback func(bytesWritten int64)

	// total tracks the total bytes written
	total int64
}

// Write implements io.Writer.
func (pw *ProgressWriter) Write(p []byte) (int, error) {
	n, err := pw.Writer.Write(p)
	pw.total += int64(n)
	if pw.Callback != nil && n > 0 {
		pw.Callback(pw.total)
	}
	return n, err
}
