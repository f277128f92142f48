package media

import (
	"bufio"
	"errors"
	"fmt"
	"image"
	"io"
	"strconv"
	"strings"
)

// frameReader reads the next frame from r into buf, or into a new image when
// buf is nil or the frame size differs.
type frameReader func(r *bufio.Reader, buf *image.RGBA) (*image.RGBA, error)

// rawFrames reads headerless RGBA frames of a fixed size.
func rawFrames(w, h int) frameReader {
	return func(r *bufio.Reader, buf *image.RGBA) (*image.RGBA, error) {
		buf = sized(buf, w, h)
		if _, err := io.ReadFull(r, buf.Pix); err != nil {
			return nil, err
		}
		return buf, nil
	}
}

// readPAM reads one PAM (P7) frame of RGB_ALPHA tuples. Each frame carries
// its own size, so sources whose native resolution is unknown up front can
// be read without forcing a scale.
func readPAM(r *bufio.Reader, buf *image.RGBA) (*image.RGBA, error) {
	magic, err := r.ReadString('\n')
	if err != nil {
		if err == io.EOF && magic != "" {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	if strings.TrimSpace(magic) != "P7" {
		return nil, fmt.Errorf("pam: bad magic %q", strings.TrimSpace(magic))
	}

	var w, h, depth int
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return nil, midFrame(err)
		}
		line = strings.TrimSpace(line)
		if line == "ENDHDR" {
			break
		}
		if line == "" || line[0] == '#' {
			continue
		}
		key, val, _ := strings.Cut(line, " ")
		val = strings.TrimSpace(val)
		switch key {
		case "WIDTH":
			w, err = strconv.Atoi(val)
		case "HEIGHT":
			h, err = strconv.Atoi(val)
		case "DEPTH":
			depth, err = strconv.Atoi(val)
		case "MAXVAL":
			if val != "255" {
				err = fmt.Errorf("unsupported maxval %s", val)
			}
		}
		if err != nil {
			return nil, fmt.Errorf("pam: %s: %w", key, err)
		}
	}
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("pam: invalid frame size %dx%d", w, h)
	}
	if depth != 4 {
		return nil, fmt.Errorf("pam: depth %d, want 4", depth)
	}

	buf = sized(buf, w, h)
	if _, err := io.ReadFull(r, buf.Pix); err != nil {
		return nil, midFrame(err)
	}
	return buf, nil
}

func sized(buf *image.RGBA, w, h int) *image.RGBA {
	if buf == nil || buf.Bounds().Dx() != w || buf.Bounds().Dy() != h {
		return image.NewRGBA(image.Rect(0, 0, w, h))
	}
	return buf
}

func midFrame(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}
