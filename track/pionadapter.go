package track

import (
	"context"
	"fmt"
	"time"

	"noisepipe"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"gopkg.in/hraban/opus.v2"
)

// PionSource adapts an inbound *webrtc.TrackRemote into a FrameSource. It
// operates strictly at the RTP data plane — reading packets and decoding
// their Opus payloads — and never touches SettingEngine, ICE, or SDP;
// negotiating the PeerConnection that produced the track is the caller's
// job and stays outside this package's scope.
//
// Grounded on client/audio.go's playbackLoop division of labor (decode
// Opus to PCM, hand PCM to the processing pipeline) and on the pion RTP
// interceptor's noiseFilterReader, which shows the same data-plane-only
// read-and-transform shape applied per packet instead of per frame.
type PionSource struct {
	remote  *webrtc.TrackRemote
	decoder *opus.Decoder

	sampleRateHz int
	pcmBuf       []int16
}

// NewPionSource returns a PionSource decoding remote's Opus payloads to
// planar f32 mono at sampleRateHz (48000 for the denoiser frame sizes this
// pipeline assumes).
func NewPionSource(remote *webrtc.TrackRemote, sampleRateHz int) (*PionSource, error) {
	dec, err := opus.NewDecoder(sampleRateHz, 1)
	if err != nil {
		return nil, fmt.Errorf("track: opus decoder: %w", err)
	}
	return &PionSource{
		remote:       remote,
		decoder:      dec,
		sampleRateHz: sampleRateHz,
		pcmBuf:       make([]int16, sampleRateHz/10), // generous upper bound for one RTP payload's worth of samples
	}, nil
}

func (s *PionSource) NextFrame(ctx context.Context) (noisepipe.Frame, bool, error) {
	type result struct {
		pkt *rtp.Packet
		err error
	}
	ch := make(chan result, 1)
	go func() {
		pkt, _, err := s.remote.ReadRTP()
		ch <- result{pkt, err}
	}()

	select {
	case <-ctx.Done():
		return noisepipe.Frame{}, false, ctx.Err()
	case r := <-ch:
		if r.err != nil {
			return noisepipe.Frame{}, false, nil // track ended
		}
		n, err := s.decoder.Decode(r.pkt.Payload, s.pcmBuf)
		if err != nil {
			return noisepipe.Frame{}, false, fmt.Errorf("track: opus decode: %w", err)
		}
		samples := make([]float32, n)
		for i := 0; i < n; i++ {
			samples[i] = float32(s.pcmBuf[i]) / 32768.0
		}
		durationUs := int64(n) * 1_000_000 / int64(s.sampleRateHz)
		return noisepipe.Frame{
			Format:       noisepipe.FormatF32Planar,
			SampleRateHz: s.sampleRateHz,
			ChannelCount: 1,
			FrameCount:   n,
			TimestampUs:  time.Now().UnixMicro(),
			DurationUs:   durationUs,
			Samples:      samples,
		}, true, nil
	}
}

// PionSink adapts an outbound *webrtc.TrackLocalStaticSample into a
// FrameSink: it encodes each emitted frame's planar f32 samples to Opus and
// writes them as a media.Sample. Ended reports false until Close is called
// explicitly — pion does not expose a push-based "downstream closed"
// signal on a local track, so callers that need §4.7's "downstream closed"
// behavior wire it through an explicit Close call instead.
type PionSink struct {
	local   *webrtc.TrackLocalStaticSample
	encoder *opus.Encoder
	ended   bool
}

// NewPionSink returns a PionSink encoding to local at sampleRateHz.
func NewPionSink(local *webrtc.TrackLocalStaticSample, sampleRateHz int) (*PionSink, error) {
	enc, err := opus.NewEncoder(sampleRateHz, 1, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("track: opus encoder: %w", err)
	}
	return &PionSink{local: local, encoder: enc}, nil
}

func (s *PionSink) Emit(ctx context.Context, frame noisepipe.Frame) error {
	pcm := make([]int16, len(frame.Samples))
	for i, v := range frame.Samples {
		pcm[i] = int16(v * 32767)
	}
	data := make([]byte, 4000)
	n, err := s.encoder.Encode(pcm, data)
	if err != nil {
		return fmt.Errorf("track: opus encode: %w", err)
	}
	return s.local.WriteSample(media.Sample{
		Data:     data[:n],
		Duration: time.Duration(frame.DurationUs) * time.Microsecond,
	})
}

func (s *PionSink) Ended() bool { return s.ended }

// Close marks the sink as ended, causing the next Emit's caller (the
// Processor) to observe §4.7's "downstream closed" condition and stop the
// session gracefully.
func (s *PionSink) Close() { s.ended = true }
