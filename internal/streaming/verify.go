package streaming

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/asticode/go-astits"
)

var (
	errNoVideoStream = errors.New("segment has no video stream")
	errNoKeyframe    = errors.New("segment has no random access point")
)

// VerifySegment checks that a finished segment is a readable MPEG-TS file
// with a program map, a video stream and at least one random access point.
func VerifySegment(ctx context.Context, path string) error {
	f, err := os.Open(path) //nolint:gosec // path is a segment written by our own encoder
	if err != nil {
		return fmt.Errorf("opening segment: %w", err)
	}
	defer f.Close()

	dmx := astits.NewDemuxer(ctx, bufio.NewReader(f))
	videoPIDs := map[uint16]bool{}
	sawPMT := false

	for {
		data, err := dmx.NextData()
		if err != nil {
			if errors.Is(err, astits.ErrNoMorePackets) {
				break
			}
			return fmt.Errorf("demuxing segment: %w", err)
		}

		if data.PMT != nil {
			sawPMT = true
			for _, es := range data.PMT.ElementaryStreams {
				if isVideoStream(es.StreamType) {
					videoPIDs[es.ElementaryPID] = true
				}
			}
			continue
		}

		if data.PES == nil || !videoPIDs[data.PID] {
			continue
		}
		if data.FirstPacket == nil {
			continue
		}
		if af := data.FirstPacket.AdaptationField; af != nil && af.RandomAccessIndicator {
			return nil
		}
	}

	switch {
	case !sawPMT:
		return errors.New("segment has no program map")
	case len(videoPIDs) == 0:
		return errNoVideoStream
	default:
		return errNoKeyframe
	}
}

func isVideoStream(t astits.StreamType) bool {
	switch t {
	case astits.StreamTypeH264Video, astits.StreamTypeH265Video,
		astits.StreamTypeMPEG1Video, astits.StreamTypeMPEG2Video:
		return true
	default:
		return false
	}
}
