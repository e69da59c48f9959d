package media

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/qrave1/meshroom/internal/application/constant"
)

var ErrUnavailable = errors.New("media device unavailable")

const (
	audioFrameInterval = 20 * time.Millisecond
	videoFrameInterval = time.Second / 30
)

// Opus кадр тишины и минимальный VP8 ключевой кадр
var (
	opusSilence = []byte{0xf8, 0xff, 0xfe}
	vp8Frame    = []byte{0x10, 0x02, 0x00, 0x9d, 0x01, 0x2a, 0x01, 0x00, 0x01, 0x00}
)

// Stream - камера и микрофон участника
type Stream struct {
	Audio *Track
	Video *Track
}

func (s *Stream) Stop() {
	s.Audio.Stop()
	s.Video.Stop()
}

// Source выдаёт локальные дорожки. Получение может блокироваться
// (запрос разрешений, открытие устройства)
type Source interface {
	Acquire(ctx context.Context) (*Stream, error)
	CaptureScreen(ctx context.Context) (*Track, error)
}

// Synthetic генерирует тишину и пустые кадры. Используется headless участником
type Synthetic struct {
	streamID string
}

func NewSynthetic(streamID string) *Synthetic {
	return &Synthetic{streamID: streamID}
}

func (s *Synthetic) Acquire(ctx context.Context) (*Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	audio, err := newTrack(KindAudio, webrtc.MimeTypeOpus, s.streamID)
	if err != nil {
		return nil, errors.Join(ErrUnavailable, err)
	}

	video, err := newTrack(KindVideo, webrtc.MimeTypeVP8, s.streamID)
	if err != nil {
		return nil, errors.Join(ErrUnavailable, err)
	}

	go pump(audio, opusSilence, audioFrameInterval)
	go pump(video, vp8Frame, videoFrameInterval)

	return &Stream{Audio: audio, Video: video}, nil
}

// CaptureScreen - та же кодек-конфигурация, что у камеры, чтобы
// RTPSender.ReplaceTrack не требовал нового offer
func (s *Synthetic) CaptureScreen(ctx context.Context) (*Track, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	screen, err := newTrack(KindScreen, webrtc.MimeTypeVP8, s.streamID)
	if err != nil {
		return nil, errors.Join(ErrUnavailable, err)
	}

	go pump(screen, vp8Frame, videoFrameInterval)

	return screen, nil
}

func pump(t *Track, frame []byte, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := t.WriteSample(frame, interval); err != nil {
				slog.Debug("pump sample", slog.Any(constant.Error, err), slog.String("kind", string(t.Kind())))
			}
		case <-t.Ended():
			return
		}
	}
}
