package vitals

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/klauspost/compress/gzip"
	"github.com/spf13/afero"

	"github.com/saveenergy/pagevitals/pkg/types"
)

// SpoolTransport appends every report as one JSON line to a file. Names
// ending in ".gz" are gzip compressed.
type SpoolTransport struct {
	mu      sync.Mutex
	name    string
	file    afero.File
	zw      *gzip.Writer
	enc     *json.Encoder
	closeFn func() error
	closed  bool
}

func NewSpoolTransport(fs afero.Fs, name string) (*SpoolTransport, error) {
	f, err := fs.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open spool: %w", err)
	}

	s := &SpoolTransport{name: name, file: f}
	if strings.HasSuffix(name, ".gz") {
		s.zw = gzip.NewWriter(f)
		s.enc = json.NewEncoder(s.zw)
		s.closeFn = func() error {
			_ = s.zw.Close()
			return f.Close()
		}
	} else {
		s.enc = json.NewEncoder(f)
		s.closeFn = f.Close
	}
	return s, nil
}

func (s *SpoolTransport) Send(_ context.Context, report *types.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrTransportClosed
	}
	if err := s.enc.Encode(report); err != nil {
		return fmt.Errorf("write spool %s: %w", s.name, err)
	}
	if s.zw != nil {
		return s.zw.Flush()
	}
	return nil
}

// Beacon writes synchronously; a local append does not block teardown.
func (s *SpoolTransport) Beacon(report *types.Report) bool {
	return s.Send(context.Background(), report) == nil
}

func (s *SpoolTransport) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.closeFn()
}

// ReadSpool reads every report written by a SpoolTransport.
func ReadSpool(fs afero.Fs, name string) ([]types.Report, error) {
	f, err := fs.Open(name)
	if err != nil {
		return nil, fmt.Errorf("open spool: %w", err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(name, ".gz") {
		zr, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("open spool: %w", err)
		}
		defer zr.Close()
		r = zr
	}

	var reports []types.Report
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64<<10), 16<<20)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var report types.Report
		if err := json.Unmarshal(line, &report); err != nil {
			return reports, fmt.Errorf("decode spool line %d: %w", len(reports)+1, err)
		}
		reports = append(reports, report)
	}
	return reports, scanner.Err()
}
