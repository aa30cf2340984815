// File: internal/reporting/reporter.go
package reporting

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
)

// Reporter renders a finished run report to an output sink.
type Reporter interface {
	// Write renders the report.
	Write(report *Report) error
	// Close finalizes the report and releases the underlying writer.
	Close() error
}

// nopWriteCloser wraps an io.Writer and provides a no-op Close method.
type nopWriteCloser struct {
	io.Writer
}

func (nwc *nopWriteCloser) Close() error { return nil }

// New creates a reporter for the given format writing to outputPath, or to
// stdout when the path is empty or the literal "stdout".
func New(format, outputPath, toolVersion string, logger *zap.Logger) (Reporter, error) {
	var writer io.WriteCloser
	isStdout := outputPath == "" || outputPath == "stdout"

	if isStdout {
		writer = &nopWriteCloser{os.Stdout}
	} else {
		f, err := os.Create(outputPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create output file %s: %w", outputPath, err)
		}
		writer = f
	}

	switch format {
	case "json", "":
		return &jsonReporter{writer: writer}, nil
	case "sarif":
		return newSARIFReporter(writer, toolVersion, logger), nil
	default:
		if !isStdout {
			writer.Close()
		}
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}
}

// jsonReporter emits the report's canonical JSON form.
type jsonReporter struct {
	writer io.WriteCloser
}

func (r *jsonReporter) Write(report *Report) error {
	return report.WriteJSON(r.writer)
}

func (r *jsonReporter) Close() error {
	return r.writer.Close()
}
