package ogg

import (
	flaccodec "github.com/tphakala/mediacore/internal/codec/flac"
	"github.com/tphakala/mediacore/internal/logger"
	"github.com/tphakala/mediacore/internal/media"
	"github.com/tphakala/mediacore/internal/xiph"
)

// maxQueuedPackets bounds the packets buffered for a stream nobody reads.
const maxQueuedPackets = 512

// flacLastBlock marks the final metadata block of a FLAC-in-Ogg stream.
const flacLastBlock = 0x80

// maxExtraHeaders caps the extra Speex header packets a stream may declare.
const maxExtraHeaders = 16

// logicalStream tracks one serial number.
type logicalStream struct {
	serial  uint32
	info    media.StreamInfo
	ignored bool // unknown codec

	headersWanted  int // 0 until the first packet is identified; -1 when open-ended
	headers        [][]byte
	headersDone    bool
	deliverHeaders bool
	comment        xiph.VorbisComment

	preSkip uint64
	opus    bool

	partial       []byte
	dropContinued bool

	granule  int64  // granule at the start of the next packet
	lastTS   uint64 // timestamp of the last delivered chunk
	queue    []media.MediaChunk
	dropped  int
	eos      bool
	maxGran  int64
	firstPkt bool
}

func newLogicalStream(serial uint32) *logicalStream {
	return &logicalStream{serial: serial, firstPkt: true, maxGran: noGranule}
}

// identify inspects the first packet of a stream.
func (ls *logicalStream) identify(pkt []byte) {
	info := media.StreamInfo{CodecType: "audio"}
	switch {
	case xiph.IsVorbisHeader(pkt, xiph.VorbisIdentification):
		id, err := xiph.ParseVorbisIdent(pkt)
		if err != nil {
			GetLogger().Warn("ignoring vorbis stream", logger.Error(err))
			ls.ignored = true
			return
		}
		info.CodecName = media.CodecVorbis
		info.SampleRate = id.SampleRate
		info.Channels = uint16(id.Channels)
		if id.BitrateNominal > 0 {
			info.Bitrate = uint32(id.BitrateNominal)
		}
		ls.headersWanted = 3
		ls.deliverHeaders = true
	case xiph.IsOpusHead(pkt):
		h, err := xiph.ParseOpusHead(pkt)
		if err != nil {
			GetLogger().Warn("ignoring opus stream", logger.Error(err))
			ls.ignored = true
			return
		}
		info.CodecName = media.CodecOpus
		info.SampleRate = xiph.OpusRate
		info.Channels = uint16(h.Channels)
		ls.preSkip = uint64(h.PreSkip)
		ls.opus = true
		ls.headersWanted = 2
		ls.deliverHeaders = true
	case xiph.IsFLACMapping(pkt):
		m, err := xiph.ParseFLACMapping(pkt)
		if err != nil {
			GetLogger().Warn("ignoring FLAC-in-Ogg stream", logger.Error(err))
			ls.ignored = true
			return
		}
		si, err := flaccodec.ParseStreamInfo(m.StreamInfo)
		if err != nil {
			GetLogger().Warn("ignoring FLAC-in-Ogg stream", logger.Error(err))
			ls.ignored = true
			return
		}
		info.CodecName = media.CodecFLAC
		info.SampleRate = si.SampleRate
		info.Channels = uint16(si.Channels)
		info.BitsPerSample = uint16(si.BitsPerSample)
		info.CodecPrivate = si.Encode()
		if m.HeaderPackets > 0 {
			ls.headersWanted = 1 + int(m.HeaderPackets)
		} else {
			ls.headersWanted = -1
		}
	case xiph.IsSpeexHeader(pkt):
		h, err := xiph.ParseSpeexHeader(pkt)
		if err != nil {
			GetLogger().Warn("ignoring speex stream", logger.Error(err))
			ls.ignored = true
			return
		}
		info.CodecName = media.CodecSpeex
		info.SampleRate = h.SampleRate
		info.Channels = uint16(h.Channels)
		if h.Bitrate > 0 {
			info.Bitrate = uint32(h.Bitrate)
		}
		ls.headersWanted = 2 + int(min(h.ExtraHeaders, maxExtraHeaders))
	default:
		GetLogger().Debug("ignoring stream with unknown codec", logger.Uint32("serial", ls.serial))
		ls.ignored = true
		return
	}
	ls.info = info
}

// addHeader stores one header packet and finishes the header set once
// complete.
func (ls *logicalStream) addHeader(pkt []byte) {
	cp := append([]byte(nil), pkt...)
	ls.headers = append(ls.headers, cp)
	idx := len(ls.headers) - 1

	switch ls.info.CodecName {
	case media.CodecVorbis:
		if idx == 1 {
			if vc, err := xiph.ParseVorbisCommentHeader(cp); err == nil {
				ls.comment = vc
			}
		}
	case media.CodecOpus:
		if idx == 1 {
			if vc, err := xiph.ParseOpusTags(cp); err == nil {
				ls.comment = vc
			}
		}
	case media.CodecSpeex:
		if idx == 1 {
			if vc, err := xiph.ParseVorbisComment(cp); err == nil {
				ls.comment = vc
			}
		}
	case media.CodecFLAC:
		if idx > 0 && len(cp) >= 4 {
			if cp[0]&0x7F == 4 {
				if vc, err := xiph.ParseVorbisComment(cp[4:]); err == nil {
					ls.comment = vc
				}
			}
			if cp[0]&0x7F == 6 {
				ls.info.HasArtwork = true
			}
			if ls.headersWanted < 0 && cp[0]&flacLastBlock != 0 {
				ls.finishHeaders()
				return
			}
		}
	}
	if ls.headersWanted > 0 && len(ls.headers) >= ls.headersWanted {
		ls.finishHeaders()
	}
}

func (ls *logicalStream) finishHeaders() {
	ls.headersDone = true
	switch ls.info.CodecName {
	case media.CodecVorbis, media.CodecSpeex:
		ls.info.CodecPrivate = xiph.PackHeaders(ls.headers)
	case media.CodecOpus:
		ls.info.CodecPrivate = ls.headers[0]
	}
	artwork := ls.info.HasArtwork
	ls.comment.Apply(&ls.info)
	ls.info.HasArtwork = ls.info.HasArtwork || artwork
}

// timestamp converts the current granule to a sample position.
func (ls *logicalStream) timestamp() uint64 {
	if ls.granule <= 0 {
		return 0
	}
	g := uint64(ls.granule)
	if g < ls.preSkip {
		return 0
	}
	return g - ls.preSkip
}

// emit handles one complete packet.
func (ls *logicalStream) emit(pkt []byte, pageOff int64) {
	if ls.firstPkt {
		ls.firstPkt = false
		ls.identify(pkt)
		if ls.ignored {
			return
		}
		ls.addHeader(pkt)
		if ls.deliverHeaders {
			ls.push(ls.headers[0], pageOff, 0)
		}
		return
	}
	if ls.ignored {
		return
	}
	if !ls.headersDone {
		// a FLAC stream with an unknown header count ends its headers at
		// the first frame
		if ls.headersWanted < 0 && flaccodec.IsSync(pkt) {
			ls.finishHeaders()
		} else {
			ls.addHeader(pkt)
			if ls.deliverHeaders {
				ls.push(ls.headers[len(ls.headers)-1], pageOff, 0)
			}
			return
		}
	}
	ts := ls.timestamp()
	ls.push(append([]byte(nil), pkt...), pageOff, ts)
	if ls.opus && ls.granule >= 0 {
		ls.granule += int64(xiph.OpusPacketSamples(pkt))
	}
}

func (ls *logicalStream) push(data []byte, off int64, ts uint64) {
	if len(ls.queue) >= maxQueuedPackets {
		ls.queue = ls.queue[1:]
		if ls.dropped == 0 {
			GetLogger().Warn("packet queue full, dropping oldest",
				logger.Uint32("serial", ls.serial),
				logger.Int("limit", maxQueuedPackets))
		}
		ls.dropped++
	}
	ls.queue = append(ls.queue, media.MediaChunk{
		StreamID:         ls.info.StreamID,
		Data:             data,
		FileOffset:       uint64(off),
		TimestampSamples: ts,
		Keyframe:         true,
	})
}

// consume feeds the packets of one page to the stream.
func (ls *logicalStream) consume(p *page) {
	first := true
	p.packets(func(data []byte, complete bool) {
		if first {
			first = false
			switch {
			case p.flags&flagContinued != 0 && (ls.dropContinued || len(ls.partial) == 0):
				// tail of a packet whose start we never saw
				if complete {
					ls.dropContinued = false
					return
				}
				ls.dropContinued = true
				return
			case p.flags&flagContinued == 0 && len(ls.partial) > 0:
				GetLogger().Debug("discarding unfinished packet", logger.Uint32("serial", ls.serial))
				ls.partial = ls.partial[:0]
			}
			ls.dropContinued = false
		}
		if !complete {
			ls.partial = append(ls.partial, data...)
			return
		}
		if len(ls.partial) > 0 {
			pkt := append(ls.partial, data...)
			ls.partial = nil
			ls.emit(pkt, p.off)
			return
		}
		ls.emit(data, p.off)
	})
	if p.granule != noGranule {
		ls.granule = p.granule
		ls.maxGran = max(ls.maxGran, p.granule)
	}
	if p.flags&flagEOS != 0 {
		ls.eos = true
	}
}

// resetForSeek drops buffered data; the next packet starts at granule.
func (ls *logicalStream) resetForSeek(granule int64) {
	ls.queue = nil
	ls.partial = nil
	ls.dropContinued = true
	ls.granule = granule
	ls.eos = false
	ls.lastTS = ls.timestamp()
}
