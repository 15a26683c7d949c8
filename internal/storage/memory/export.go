package memory

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	v1 "github.com/OCAP2/conveyor/internal/storage/memory/export/v1"
)

// exportJSON writes the run to OutputDir. Callers hold b.mu.
func (b *Backend) exportJSON() error {
	export := v1.Build(&v1.RunData{
		Run:      b.run,
		Events:   b.events,
		Statuses: b.statuses,
	})

	filename := v1.FileStem(b.run) + ".json"
	if b.cfg.CompressOutput {
		filename += ".gz"
	}

	if err := os.MkdirAll(b.cfg.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	outputPath := filepath.Join(b.cfg.OutputDir, filename)

	if err := writeExport(outputPath, export, b.cfg.CompressOutput); err != nil {
		return err
	}

	b.lastExportPath = outputPath
	b.lastExportMetadata.RunID = b.run.ID
	b.lastExportMetadata.StartTime = b.run.StartTime
	b.lastExportMetadata.Duration = b.run.EndTime.Sub(b.run.StartTime)
	b.lastExportMetadata.EventCount = len(b.events)
	b.lastExportMetadata.StatusCount = len(b.statuses)
	return nil
}

func writeExport(path string, data v1.Export, compress bool) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("failed to close file: %w", cerr)
		}
	}()

	var w io.Writer = f
	if compress {
		gz := gzip.NewWriter(f)
		defer func() {
			if cerr := gz.Close(); err == nil && cerr != nil {
				err = fmt.Errorf("failed to finish gzip stream: %w", cerr)
			}
		}()
		w = gz
	}

	if err := json.NewEncoder(w).Encode(data); err != nil {
		return fmt.Errorf("failed to encode export: %w", err)
	}
	return nil
}
