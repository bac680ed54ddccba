package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gocv.io/x/gocv"
)

// ErrStopped is returned by a frame callback to end a stream early without
// reporting an error.
var ErrStopped = errors.New("source: stopped")

// FrameFunc is invoked for each decoded frame. The Mat is only valid for the
// duration of the call.
type FrameFunc func(frameID int64, img gocv.Mat) error

// ReadImage decodes a single image file. The caller owns the returned Mat.
func ReadImage(path string) (gocv.Mat, error) {
	img := gocv.IMRead(path, gocv.IMReadUnchanged)
	if img.Empty() {
		return img, fmt.Errorf("unable to decode image %s", path)
	}
	return img, nil
}

// StreamVideo reads a video file frame by frame until EOF and returns the
// number of frames processed.
func StreamVideo(ctx context.Context, path string, fn FrameFunc) (int64, error) {
	cap, err := gocv.OpenVideoCapture(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open video %s: %w", path, err)
	}
	defer cap.Close()

	img := gocv.NewMat()
	defer img.Close()

	var frameID int64
	for {
		select {
		case <-ctx.Done():
			return frameID, ctx.Err()
		default:
		}

		if ok := cap.Read(&img); !ok {
			// EOF
			return frameID, nil
		}
		if img.Empty() {
			continue
		}

		if err := fn(frameID, img); err != nil {
			if errors.Is(err, ErrStopped) {
				return frameID, nil
			}
			return frameID, err
		}
		frameID++
	}
}

// RTSPOptions controls stream capture behavior.
type RTSPOptions struct {
	// FPS throttles detection to at most this many frames per second.
	// 0 means every decoded frame.
	FPS int
	// MaxReconnects bounds reconnection attempts after the stream drops.
	// 0 means reconnect forever.
	MaxReconnects int
	// ReconnectDelay is the wait between reconnection attempts.
	ReconnectDelay time.Duration
}

// StreamRTSP reads frames from an RTSP URL, reconnecting with backoff when
// the stream drops, until the context is cancelled or the callback stops it.
func StreamRTSP(ctx context.Context, url string, opts RTSPOptions, fn FrameFunc) error {
	if opts.ReconnectDelay == 0 {
		opts.ReconnectDelay = 2 * time.Second
	}

	logger := slog.Default().With("component", "rtsp_source", "url", url)

	var frameID int64
	reconnects := 0

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := streamRTSPOnce(ctx, url, opts, &frameID, fn)
		if err == nil || errors.Is(err, ErrStopped) {
			return nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		reconnects++
		if opts.MaxReconnects > 0 && reconnects > opts.MaxReconnects {
			return fmt.Errorf("stream %s: giving up after %d reconnects: %w", url, opts.MaxReconnects, err)
		}

		logger.Warn("Stream dropped, reconnecting", "attempt", reconnects, "error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(opts.ReconnectDelay):
		}
	}
}

// streamRTSPOnce runs a single capture session until the stream drops.
func streamRTSPOnce(ctx context.Context, url string, opts RTSPOptions, frameID *int64, fn FrameFunc) error {
	cap, err := gocv.OpenVideoCapture(url)
	if err != nil {
		return fmt.Errorf("can't open the stream: %w", err)
	}
	defer cap.Close()

	img := gocv.NewMat()
	defer img.Close()

	var interval time.Duration
	if opts.FPS > 0 {
		interval = time.Second / time.Duration(opts.FPS)
	}
	var lastProcessed time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if ok := cap.Read(&img); !ok {
			return fmt.Errorf("can't get frame")
		}
		if img.Empty() {
			continue
		}

		// Decode every frame to keep the stream current, but throttle the
		// callback to the configured rate.
		if interval > 0 && time.Since(lastProcessed) < interval {
			continue
		}
		lastProcessed = time.Now()

		if err := fn(*frameID, img); err != nil {
			return err
		}
		*frameID++
	}
}
