package logging

import (
	"net/http"
)

// LoggingWriter wraps an http.ResponseWriter and records the response
// status code and the number of bytes written, for access logging and
// metrics. It preserves the Flush operation of the underlying writer,
// which the streaming forwarder depends on.
type LoggingWriter struct {
	writer http.ResponseWriter
	code   int
	bytes  int64
}

// NewLoggingWriter wraps the writer w.
func NewLoggingWriter(w http.ResponseWriter) *LoggingWriter {
	return &LoggingWriter{writer: w}
}

func (lw *LoggingWriter) Write(data []byte) (count int, err error) {
	count, err = lw.writer.Write(data)
	lw.bytes += int64(count)
	return
}

func (lw *LoggingWriter) WriteHeader(code int) {
	lw.writer.WriteHeader(code)
	if code == 0 {
		code = http.StatusOK
	}
	lw.code = code
}

func (lw *LoggingWriter) Header() http.Header {
	return lw.writer.Header()
}

func (lw *LoggingWriter) Flush() {
	if f, ok := lw.writer.(http.Flusher); ok {
		f.Flush()
	}
}

// GetCode returns the status code of the response, or 200 when no
// explicit status was written.
func (lw *LoggingWriter) GetCode() int {
	if lw.code == 0 {
		return http.StatusOK
	}
	return lw.code
}

// GetBytes returns the size of the response body written so far.
func (lw *LoggingWriter) GetBytes() int64 {
	return lw.bytes
}
