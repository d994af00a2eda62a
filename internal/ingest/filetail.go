package ingest

import (
	"bufio"
	"context"
	"io"
	"os"
	"time"
)

const SourceFileTail = "file_tail"

func StartFileTail(ctx context.Context, p *Pipeline) {
	current := p.cfg.Get().Ingest.FileTail
	if !current.Enabled {
		p.logger.Info("file tail ingest disabled")
		return
	}
	for _, path := range current.Files {
		p.logger.Info("file tail ingest enabled", "path", path, "start_at_end", current.StartAtEnd)
		go tailFile(ctx, p, path, current.StartAtEnd)
	}
}

// tailFile follows path like tail -F: it reopens the file after truncation
// or rotation and forgets the CSV header when it does.
func tailFile(ctx context.Context, p *Pipeline, path string, startAtEnd bool) {
	var file *os.File
	var offset int64
	parser := NewParser()
	for {
		select {
		case <-ctx.Done():
			if file != nil {
				_ = file.Close()
			}
			return
		default:
		}
		if file == nil {
			f, err := os.Open(path)
			if err != nil {
				p.logger.Warn("tail open failed", "path", path, "err", err)
				if !BackoffSleep(ctx, 500*time.Millisecond) {
					return
				}
				continue
			}
			file = f
			offset = 0
			parser = NewParser()
			if startAtEnd {
				if pos, err := file.Seek(0, io.SeekEnd); err == nil {
					offset = pos
				}
				// A rotated file is read from its start.
				startAtEnd = false
			}
		}

		reader := bufio.NewReader(file)
		var partial string
		for {
			chunk, err := reader.ReadString('\n')
			if err != nil {
				partial += chunk
				if err == io.EOF {
					if !BackoffSleep(ctx, 200*time.Millisecond) {
						_ = file.Close()
						return
					}
					info, statErr := os.Stat(path)
					if statErr != nil || info.Size() < offset {
						_ = file.Close()
						file = nil
						break
					}
					continue
				}
				p.logger.Warn("tail read error", "path", path, "err", err)
				_ = file.Close()
				file = nil
				break
			}
			line := partial + chunk
			partial = ""
			offset += int64(len(line))
			p.Handle(ctx, parser, line, SourceFileTail)
		}
	}
}
