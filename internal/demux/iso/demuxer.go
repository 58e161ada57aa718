package iso

import (
	"encoding/binary"
	"io"
	"sync"

	"github.com/tphakala/mediacore/internal/boundedbuf"
	"github.com/tphakala/mediacore/internal/demux/base"
	"github.com/tphakala/mediacore/internal/errors"
	"github.com/tphakala/mediacore/internal/logger"
	"github.com/tphakala/mediacore/internal/media"
)

const formatName = "mp4"

// maxPCMChunkFrames caps the frames delivered per chunk for PCM tracks,
// where one sample is one frame.
const maxPCMChunkFrames = 4096

// Options configure the demuxer.
type Options struct {
	base.Options
	Tables TableConfig
	// Strict rejects files the compliance validator classifies as
	// non-compliant.
	Strict bool
}

// Demuxer reads audio tracks from ISO base media files. All methods are
// safe for concurrent use.
type Demuxer struct {
	mu sync.Mutex
	st demuxState
}

// demuxState holds the parse result. Its methods never lock.
type demuxState struct {
	h       media.IOHandler
	opts    Options
	staging *boundedbuf.Buffer

	parsed   bool
	tracks   []*Track
	tables   map[uint32]*SampleTableManager
	streams  []media.StreamInfo
	cursors  map[uint32]uint32
	selected uint32
	frags    *FragmentHandler
	meta     Metadata
	report   ComplianceReport
}

// New returns a demuxer over h. ParseContainer must be called before use.
func New(h media.IOHandler, opts Options) *Demuxer {
	opts.Options = opts.Options.WithDefaults()
	return &Demuxer{st: demuxState{
		h:       h,
		opts:    opts,
		staging: opts.NewStaging("iso"),
	}}
}

// Open builds and parses a demuxer.
func Open(h media.IOHandler, opts Options) (*Demuxer, error) {
	d := New(h, opts)
	if err := d.ParseContainer(); err != nil {
		_ = d.Close()
		return nil, err
	}
	return d, nil
}

// ParseContainer reads the box tree, tracks, fragments and tags.
func (d *Demuxer) ParseContainer() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.st.parse()
}

func (d *Demuxer) Streams() []media.StreamInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]media.StreamInfo(nil), d.st.streams...)
}

func (d *Demuxer) StreamInfo(id uint32) (media.StreamInfo, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.st.streamInfo(id)
}

// ReadChunk returns the next chunk of the first audio track.
func (d *Demuxer) ReadChunk() (media.MediaChunk, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.st.readChunk(d.st.selected)
}

func (d *Demuxer) ReadChunkFor(id uint32) (media.MediaChunk, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.st.readChunk(id)
}

func (d *Demuxer) SeekTo(ms uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	err := d.st.seekTo(ms)
	d.st.opts.Recorder.RecordSeek(formatName, err == nil)
	return err
}

func (d *Demuxer) EOF() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.st.eof(d.st.selected)
}

func (d *Demuxer) Duration() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.st.durationMs()
}

func (d *Demuxer) Position() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.st.positionMs()
}

// Close releases the sample tables and staging memory. The IOHandler
// stays open.
func (d *Demuxer) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, t := range d.st.tables {
		t.Close()
	}
	d.st.staging.Release()
	return nil
}

// Report returns the compliance report of the last parse.
func (d *Demuxer) Report() ComplianceReport {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.st.report
}

// Metadata returns the tags found in the file.
func (d *Demuxer) Metadata() Metadata {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.st.meta
}

// Fragments returns the number of movie fragments merged into the tables.
func (d *Demuxer) Fragments() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.st.frags == nil {
		return 0
	}
	return d.st.frags.Count()
}

// OptimizeMemoryUsage compacts every sample table.
func (d *Demuxer) OptimizeMemoryUsage() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, t := range d.st.tables {
		t.OptimizeMemoryUsage()
	}
}

// readPayload loads the payload of b into the staging buffer. The result
// is valid until the next call.
func (s *demuxState) readPayload(b *box) ([]byte, error) {
	if _, err := s.h.Seek(b.payloadOffset(), io.SeekStart); err != nil {
		return nil, err
	}
	if err := base.ReadInto(s.h, s.staging, b.payloadSize()); err != nil {
		return nil, err
	}
	return s.staging.Bytes(), nil
}

// parse commits its result only on success.
func (s *demuxState) parse() error {
	if s.parsed {
		return nil
	}
	log := GetLogger()
	if s.h == nil {
		return media.ErrIO
	}
	if _, err := s.h.Seek(0, io.SeekStart); err != nil {
		return err
	}
	start, err := media.SkipID3v2(s.h)
	if err != nil {
		return err
	}
	root, err := walkBoxes(s.h, start, s.h.Size())
	if err != nil {
		return err
	}

	var brands []string
	if ftyp := root.child(typeFtyp); ftyp != nil {
		p, err := s.readPayload(ftyp)
		if err != nil {
			return err
		}
		brands = parseBrands(p)
	}

	moov := root.child(typeMoov)
	if moov == nil {
		return errors.New(media.ErrBadFormat).
			Component("iso").
			Category(errors.CategoryContainer).
			Context("reason", "no moov box").
			Build()
	}

	frags := NewFragmentHandler()
	if mvex := moov.child(typeMvex); mvex != nil {
		for _, trex := range mvex.all(typeTrex) {
			p, err := s.readPayload(trex)
			if err != nil {
				return err
			}
			def, err := parseTrex(p)
			if err != nil {
				return err
			}
			frags.SetDefaults(def)
		}
	}

	var tracks []*Track
	for _, trak := range moov.all(typeTrak) {
		t, err := s.parseTrak(trak)
		if err != nil {
			return err
		}
		if t == nil {
			continue
		}
		tracks = append(tracks, t)
	}

	if err := s.mergeFragments(root, frags, tracks); err != nil {
		return err
	}

	tables := make(map[uint32]*SampleTableManager, len(tracks))
	for _, t := range tracks {
		m := NewSampleTableManager(s.opts.Tables)
		if err := m.Build(&t.Tables); err != nil {
			return err
		}
		tables[t.ID] = m
	}

	report := NewComplianceValidator().Validate(root, brands, tracks)
	if report.Level != Compliant && log.Enabled(logger.LogLevelDebug) {
		log.Debug("compliance findings",
			logger.String("level", report.Level.String()),
			logger.Int("warnings", len(report.Warnings)),
			logger.Int("errors", len(report.Errors)))
		for _, w := range report.Warnings {
			log.Debug("compliance warning", logger.String("finding", w))
		}
		for _, e := range report.Errors {
			log.Debug("compliance error", logger.String("finding", e))
		}
	}
	if s.opts.Strict && report.Level == NonCompliant {
		return errors.New(media.ErrInvalidMedia).
			Component("iso").
			Category(errors.CategoryValidation).
			Context("errors", report.Errors).
			Build()
	}

	meta := newMetadataExtractor(s.readPayload).Extract(moov)

	var streams []media.StreamInfo
	for _, t := range tracks {
		if t.CodecName == "" {
			continue
		}
		streams = append(streams, s.streamFor(t, tables[t.ID], meta))
	}
	if len(streams) == 0 {
		return errors.New(media.ErrUnsupported).
			Component("iso").
			Category(errors.CategoryUnsupported).
			Context("tracks", len(tracks)).
			Build()
	}

	s.tracks = tracks
	s.tables = tables
	s.streams = streams
	s.frags = frags
	s.meta = meta
	s.report = report
	s.selected = streams[0].StreamID
	s.cursors = make(map[uint32]uint32, len(tracks))
	s.parsed = true

	log.Debug("mp4 parsed",
		logger.Int("tracks", len(tracks)),
		logger.Int("fragments", frags.Count()),
		logger.String("codec", streams[0].CodecName),
		logger.String("table_mode", tables[s.selected].Mode().String()))
	return nil
}

func parseBrands(p []byte) []string {
	if len(p) < 8 {
		return nil
	}
	brands := []string{string(p[0:4])}
	for off := 8; off+4 <= len(p); off += 4 {
		brands = append(brands, string(p[off:off+4]))
	}
	return brands
}

// parseTrak returns nil for tracks that do not carry sound.
func (s *demuxState) parseTrak(trak *box) (*Track, error) {
	mdia := trak.child(typeMdia)
	if mdia == nil {
		return nil, nil
	}
	hdlr := mdia.child(typeHdlr)
	if hdlr == nil {
		return nil, nil
	}
	p, err := s.readPayload(hdlr)
	if err != nil {
		return nil, err
	}
	t := &Track{Handler: parseHdlr(p)}
	if t.Handler != "soun" {
		return nil, nil
	}

	if tkhd := trak.child(typeTkhd); tkhd != nil {
		if p, err = s.readPayload(tkhd); err != nil {
			return nil, err
		}
		parseTkhd(p, t)
	}
	if mdhd := mdia.child(typeMdhd); mdhd != nil {
		if p, err = s.readPayload(mdhd); err != nil {
			return nil, err
		}
		if err = parseMdhd(p, t); err != nil {
			return nil, err
		}
	}

	stbl := mdia.path(typeMinf, typeStbl)
	if stbl == nil {
		return nil, structural("track %d has no sample table", t.ID)
	}
	stsd := stbl.child(typeStsd)
	if stsd == nil {
		return nil, structural("track %d has no sample description", t.ID)
	}
	if p, err = s.readPayload(stsd); err != nil {
		return nil, err
	}
	if err = parseStsd(p, t); err != nil {
		return nil, err
	}
	if err = s.parseTables(stbl, &t.Tables); err != nil {
		return nil, err
	}
	if t.IsPCM() && t.BytesPerFrame > 0 && t.Tables.ConstantSize != 0 && t.Tables.ConstantSize < t.BytesPerFrame {
		// QuickTime version 0 PCM stores a sample size of 1 with one
		// sample per frame.
		t.Tables.ConstantSize = t.BytesPerFrame
	}
	return t, nil
}

func (s *demuxState) parseTables(stbl *box, st *SampleTableInfo) error {
	for _, c := range stbl.children {
		switch c.typ {
		case typeStts, typeStsc, typeStsz, typeStz2, typeStco, typeCo64, typeStss:
		default:
			continue
		}
		p, err := s.readPayload(c)
		if err != nil {
			return err
		}
		switch c.typ {
		case typeStts:
			st.TimeToSample, err = parseStts(p)
		case typeStsc:
			st.SampleToChunk, err = parseStsc(p)
		case typeStsz:
			err = parseStsz(p, st)
		case typeStz2:
			err = parseStz2(p, st)
		case typeStco:
			st.ChunkOffsets, err = parseChunkOffsets(p, false)
		case typeCo64:
			st.ChunkOffsets, err = parseChunkOffsets(p, true)
		case typeStss:
			st.SyncSamples, err = parseStss(p)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// mergeFragments parses every top-level moof and appends its samples to
// the matching track in sequence order.
func (s *demuxState) mergeFragments(root *box, frags *FragmentHandler, tracks []*Track) error {
	for i, b := range root.children {
		if b.typ != typeMoof {
			continue
		}
		var mdat *box
		if i+1 < len(root.children) && root.children[i+1].typ == typeMdat {
			mdat = root.children[i+1]
		}
		frag, err := frags.ParseMovieFragment(b, mdat, s.readPayload)
		if err != nil {
			return err
		}
		if !frags.AddFragment(frag) {
			GetLogger().Warn("duplicate fragment ignored", logger.Uint64("sequence", uint64(frag.SequenceNumber)))
		}
	}
	if frags.Count() == 0 {
		return nil
	}
	frags.ReorderFragments()
	if frags.HasMissingFragments() {
		GetLogger().Warn("fragment sequence has gaps", logger.Int("fragments", frags.Count()))
	}

	byID := make(map[uint32]*Track, len(tracks))
	for _, t := range tracks {
		byID[t.ID] = t
	}
	all := frags.Fragments()
	for i := range all {
		for j := range all[i].Tracks {
			tf := &all[i].Tracks[j]
			t := byID[tf.TrackID]
			if t == nil {
				continue
			}
			if err := frags.UpdateSampleTables(&all[i], tf, t); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *demuxState) streamFor(t *Track, tbl *SampleTableManager, md Metadata) media.StreamInfo {
	total := tbl.TotalTime()
	if t.Duration > total {
		total = t.Duration
	}
	info := media.StreamInfo{
		StreamID:      t.ID,
		CodecType:     "audio",
		CodecName:     t.CodecName,
		CodecTag:      binary.BigEndian.Uint32([]byte(t.Format)),
		SampleRate:    t.SampleRate,
		Channels:      t.Channels,
		BitsPerSample: t.BitsPerSample,
		Bitrate:       t.AvgBitrate,
		CodecPrivate:  append([]byte(nil), t.CodecConfig...),
		SampleFormat:  t.SampleFormat,
		ByteOrder:     t.ByteOrder,
	}
	info.DurationSamples = toRate(total, t.Timescale, t.SampleRate)
	if t.Timescale > 0 {
		info.DurationMs = total * 1000 / uint64(t.Timescale)
	}
	md.Apply(&info)
	return info
}

// toRate converts ticks at timescale from to timescale to.
func toRate(ticks uint64, from, to uint32) uint64 {
	if from == 0 || from == to {
		return ticks
	}
	return ticks * uint64(to) / uint64(from)
}

func (s *demuxState) streamInfo(id uint32) (media.StreamInfo, bool) {
	for _, si := range s.streams {
		if si.StreamID == id {
			return si, true
		}
	}
	return media.StreamInfo{}, false
}

func (s *demuxState) track(id uint32) *Track {
	for _, t := range s.tracks {
		if t.ID == id {
			return t
		}
	}
	return nil
}

func (s *demuxState) eof(id uint32) bool {
	tbl := s.tables[id]
	return !s.parsed || tbl == nil || s.cursors[id] >= tbl.SampleCount()
}

func (s *demuxState) readChunk(id uint32) (media.MediaChunk, error) {
	if !s.parsed {
		return media.MediaChunk{}, media.ErrNotParsed
	}
	t, tbl := s.track(id), s.tables[id]
	if t == nil || tbl == nil || t.CodecName == "" {
		return media.MediaChunk{}, media.ErrUnknownStream
	}
	cur := s.cursors[id]
	if cur >= tbl.SampleCount() {
		return media.MediaChunk{StreamID: id}, media.ErrEndOfStream
	}

	first, ok := tbl.Sample(cur)
	if !ok {
		return media.MediaChunk{StreamID: id}, media.ErrEndOfStream
	}
	n := uint32(1)
	size := uint64(first.Size)
	if t.IsPCM() {
		chunkFirst, inChunk := tbl.ChunkSpan(cur)
		n = min(chunkFirst+inChunk-cur, maxPCMChunkFrames)
		if n > 1 {
			last, _ := tbl.Sample(cur + n - 1)
			size = last.Offset + uint64(last.Size) - first.Offset
		}
	}
	if size > uint64(s.opts.MaxStaging) {
		return media.MediaChunk{}, structural("sample %d of track %d is %d bytes", cur, id, size)
	}

	data, err := base.ReadPayload(s.h, int64(first.Offset), int(size))
	if err != nil {
		return media.MediaChunk{}, errors.New(err).
			Component("iso").
			Category(errors.CategoryFileIO).
			StreamContext(t.CodecName, int64(first.Offset)).
			Build()
	}
	s.cursors[id] = cur + n
	s.opts.Recorder.RecordChunk(formatName)

	return media.MediaChunk{
		StreamID:         id,
		Data:             data,
		FileOffset:       first.Offset,
		TimestampSamples: toRate(first.Time, t.Timescale, t.SampleRate),
		Keyframe:         first.Sync,
	}, nil
}

func (s *demuxState) seekTo(ms uint64) error {
	if !s.parsed {
		return media.ErrNotParsed
	}
	if ms > s.durationMs() {
		return errors.Newf("seek to %d ms beyond duration %d ms", ms, s.durationMs()).
			Component("iso").
			Category(errors.CategoryValidation).
			Build()
	}
	targets := make(map[uint32]uint32, len(s.tracks))
	for _, t := range s.tracks {
		tbl := s.tables[t.ID]
		if tbl == nil || tbl.SampleCount() == 0 {
			continue
		}
		ticks := ms * uint64(t.Timescale) / 1000
		i := tbl.SyncSampleAtOrBefore(tbl.TimeToSample(ticks))
		targets[t.ID] = i
	}
	for id, i := range targets {
		s.cursors[id] = i
	}
	return nil
}

func (s *demuxState) durationMs() uint64 {
	if si, ok := s.streamInfo(s.selected); ok {
		return si.DurationMs
	}
	return 0
}

func (s *demuxState) positionMs() uint64 {
	t, tbl := s.track(s.selected), s.tables[s.selected]
	if t == nil || tbl == nil || t.Timescale == 0 {
		return 0
	}
	return tbl.SampleToTime(s.cursors[s.selected]) * 1000 / uint64(t.Timescale)
}
