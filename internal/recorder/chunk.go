package recorder

import (
	"errors"
	"io"
	"sync"
	"time"
)

// pumpChunks reads r until EOF and hands whatever arrived to emit once per
// timeslice, then once more at the end. emit may receive empty chunks.
func pumpChunks(r io.Reader, timeslice time.Duration, emit func([]byte)) error {
	var (
		mu      sync.Mutex
		pending []byte
	)
	readDone := make(chan error, 1)
	go func() {
		buf := make([]byte, 64*1024)
		for {
			n, err := r.Read(buf)
			if n > 0 {
				mu.Lock()
				pending = append(pending, buf[:n]...)
				mu.Unlock()
			}
			if err != nil {
				if errors.Is(err, io.EOF) {
					err = nil
				}
				readDone <- err
				return
			}
		}
	}()

	flush := func() {
		mu.Lock()
		chunk := pending
		pending = nil
		mu.Unlock()
		emit(chunk)
	}

	ticker := time.NewTicker(timeslice)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			flush()
		case err := <-readDone:
			flush()
			return err
		}
	}
}
