// Package extractor opens containers for the source. It reads MPEG
// transport streams carrying H.264, H.265 and ADTS audio, and raw ADTS
// files. Every track supports seeking to a sync point.
package extractor

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/zsiec/mediaplay/internal/codec"
	"github.com/zsiec/mediaplay/internal/media"
	"github.com/zsiec/mediaplay/internal/mpegts"
	"github.com/zsiec/mediaplay/internal/source"
)

// Container MIME types understood by Open.
const (
	MIMEContainerTS   = "video/mp2ts"
	MIMEContainerADTS = "audio/aac-adts"
)

const (
	// sniffSize covers three transport packets.
	sniffSize = 3 * mpegts.PacketSize

	// tsMetaSize is what openTS reads before giving up on stream formats.
	tsMetaSize   = 1000 * mpegts.PacketSize
	adtsMetaSize = 8 << 10
)

// Factory returns an extractor factory that logs to log.
func Factory(log *slog.Logger) source.ExtractorFactory {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "extractor")
	return func(ds source.DataSource, mimeHint string) (source.Extractor, error) {
		return open(ds, mimeHint, log)
	}
}

// Open picks a container reader from mimeHint, sniffing the data when the
// hint is empty or unknown.
func Open(ds source.DataSource, mimeHint string) (source.Extractor, error) {
	return open(ds, mimeHint, slog.Default().With("component", "extractor"))
}

func open(ds source.DataSource, mimeHint string, log *slog.Logger) (source.Extractor, error) {
	mime := normalize(mimeHint)
	if mime == "" {
		sniffed, _, err := Sniff(ds)
		if err != nil {
			return nil, err
		}
		mime = sniffed
	}
	switch mime {
	case MIMEContainerTS:
		return openTS(ds, log)
	case MIMEContainerADTS:
		return openADTS(ds, log)
	}
	return nil, fmt.Errorf("extractor: container %q: %w", mime, media.ErrUnsupported)
}

// normalize maps the content types servers send for the supported
// containers. Anything else is left to sniffing.
func normalize(mime string) string {
	mime, _, _ = strings.Cut(strings.ToLower(strings.TrimSpace(mime)), ";")
	switch mime {
	case MIMEContainerTS, "video/mp2t", "video/mpeg2ts":
		return MIMEContainerTS
	case MIMEContainerADTS, "audio/aac", "audio/aacp", "audio/x-aac":
		return MIMEContainerADTS
	}
	return ""
}

// Sniff identifies the container from its first bytes. metaSize is how much
// data the matching reader needs before it can open the stream.
func Sniff(ds source.DataSource) (mime string, metaSize int64, err error) {
	head := make([]byte, sniffSize)
	n, err := ds.ReadAt(head, 0)
	head = head[:n]
	if n == 0 && err != nil {
		return "", -1, fmt.Errorf("extractor: sniff: %w: %w", media.ErrIO, err)
	}

	if isTS(head) {
		return MIMEContainerTS, tsMetaSize, nil
	}
	skip := id3Size(head)
	if skip > 0 {
		frame := make([]byte, 7)
		if _, err := ds.ReadAt(frame, skip); err == nil && codec.IsADTSSync(frame) {
			return MIMEContainerADTS, skip + adtsMetaSize, nil
		}
	} else if codec.IsADTSSync(head) {
		return MIMEContainerADTS, adtsMetaSize, nil
	}
	return "", -1, fmt.Errorf("extractor: unrecognized container: %w", media.ErrUnsupported)
}

// isTS wants a sync byte at the start of every packet in head, and at least
// two packets.
func isTS(head []byte) bool {
	if len(head) < 2*mpegts.PacketSize {
		return false
	}
	for i := 0; i < len(head); i += mpegts.PacketSize {
		if head[i] != mpegts.SyncByte {
			return false
		}
	}
	return true
}

// id3Size returns the length of a leading ID3v2 tag, footer included, or 0.
func id3Size(b []byte) int64 {
	if len(b) < 10 || string(b[:3]) != "ID3" {
		return 0
	}
	size := int64(b[6]&0x7F)<<21 | int64(b[7]&0x7F)<<14 | int64(b[8]&0x7F)<<7 | int64(b[9]&0x7F)
	size += 10
	if b[5]&0x10 != 0 {
		size += 10
	}
	return size
}
