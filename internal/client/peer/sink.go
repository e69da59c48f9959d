package peer

import (
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/qrave1/meshroom/internal/application/constant"
)

// RTPSink вычитывает удалённые дорожки, чтобы буферы приёма не переполнялись,
// и считает пакеты по участникам
type RTPSink struct {
	// stats хранит map[remote_id]*SinkStats
	stats map[string]*SinkStats

	mu sync.Mutex
}

type SinkStats struct {
	Packets uint64
	Bytes   uint64

	// LastSequence - номер последнего RTP пакета
	LastSequence uint16
}

func NewRTPSink() *RTPSink {
	return &RTPSink{stats: make(map[string]*SinkStats)}
}

// Consume запускает чтение дорожки до её закрытия
func (s *RTPSink) Consume(remoteID string, track *webrtc.TrackRemote) {
	go s.drain(remoteID, func(buf []byte) (int, error) {
		n, _, err := track.Read(buf)
		return n, err
	})
}

func (s *RTPSink) drain(remoteID string, read func([]byte) (int, error)) {
	buf := make([]byte, 1500)
	packet := &rtp.Packet{}

	for {
		n, err := read(buf)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				slog.Debug("remote track read", slog.Any(constant.Error, err), slog.String(constant.RemoteID, remoteID))
			}
			return
		}

		if err = packet.Unmarshal(buf[:n]); err != nil {
			slog.Debug("malformed rtp packet", slog.Any(constant.Error, err), slog.String(constant.RemoteID, remoteID))
			continue
		}

		s.record(remoteID, packet, n)
	}
}

func (s *RTPSink) record(remoteID string, packet *rtp.Packet, size int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.stats[remoteID]
	if !ok {
		st = &SinkStats{}
		s.stats[remoteID] = st
	}

	st.Packets++
	st.Bytes += uint64(size)
	st.LastSequence = packet.SequenceNumber
}

func (s *RTPSink) Stats(remoteID string) SinkStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st, ok := s.stats[remoteID]; ok {
		return *st
	}

	return SinkStats{}
}

// Forget убирает статистику ушедшего участника
func (s *RTPSink) Forget(remoteID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.stats, remoteID)
}
