package hls

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/heliosmedia/helios/internal/logger"
	"github.com/heliosmedia/helios/internal/media"
	"github.com/heliosmedia/helios/internal/types"
)

// audioOverheadBits is the fixed allowance added to measured video bandwidth
// to account for the audio rendition a player pairs with it.
const audioOverheadBits = 128_000

// bandwidthHeadroom is applied to average bandwidth to produce the peak
// BANDWIDTH attribute.
const bandwidthHeadroom = 1.10

// Generator writes rendition and master playlists for a completed encode.
type Generator struct {
	logger           logger.Logger
	runner           types.CommandRunner
	ffprobePath      string
	segmentDuration  int
	priorityLangs    []string
	probeConcurrency int
}

// NewGenerator creates a playlist Generator.
func NewGenerator(log logger.Logger, runner types.CommandRunner, ffprobePath string, segmentDuration int, priorityLangs []string, probeConcurrency int) *Generator {
	if probeConcurrency < 1 {
		probeConcurrency = 1
	}
	return &Generator{
		logger:           log.Named("hls"),
		runner:           runner,
		ffprobePath:      ffprobePath,
		segmentDuration:  segmentDuration,
		priorityLangs:    priorityLangs,
		probeConcurrency: probeConcurrency,
	}
}

// renditionMeta is the probed description of one encoded rendition.
type renditionMeta struct {
	folderName   string
	isVideo      bool
	width        int
	height       int
	isHDR        bool
	language     string
	audioCodec   string
	channels     int
	codecString  string
	frameRate    float64
	totalBytes   int64
	segmentCount int
	playlistRel  string
}

// GeneratePlaylists writes one playlist per rendition plus the master
// playlist. Rendition metadata probing runs concurrently under the
// configured bound.
func (g *Generator) GeneratePlaylists(ctx context.Context, structure *OutputStructure, duration time.Duration) error {
	if duration <= 0 {
		return fmt.Errorf("playlist generation requires a positive duration, got %v", duration)
	}

	metas := make([]*renditionMeta, len(structure.Videos)+len(structure.Audios))
	var mu sync.Mutex

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(g.probeConcurrency)

	for i, video := range structure.Videos {
		i, video := i, video
		group.Go(func() error {
			meta, err := g.probeVideoRendition(groupCtx, structure, video)
			if err != nil {
				return err
			}
			mu.Lock()
			metas[i] = meta
			mu.Unlock()
			return nil
		})
	}
	for i, audio := range structure.Audios {
		i, audio := i, audio
		group.Go(func() error {
			meta, err := g.probeAudioRendition(structure, audio)
			if err != nil {
				return err
			}
			mu.Lock()
			metas[len(structure.Videos)+i] = meta
			mu.Unlock()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}

	for _, meta := range metas {
		if err := g.writeRenditionPlaylist(structure, meta, duration); err != nil {
			return err
		}
	}

	return g.writeMasterPlaylist(structure, metas, duration)
}

func (g *Generator) probeVideoRendition(ctx context.Context, structure *OutputStructure, video VideoOutput) (*renditionMeta, error) {
	folder := filepath.Join(structure.BasePath, video.FolderName)
	segments, totalBytes, err := enumerateSegments(folder)
	if err != nil {
		return nil, err
	}
	if len(segments) == 0 {
		return nil, fmt.Errorf("video rendition %s produced no segments", video.FolderName)
	}

	meta := &renditionMeta{
		folderName:   video.FolderName,
		isVideo:      true,
		width:        video.Width,
		height:       video.Height,
		totalBytes:   totalBytes,
		segmentCount: len(segments),
		playlistRel:  video.FolderName + "/playlist.m3u8",
	}

	isHDR, tagged := parseRangeTag(video.FolderName)
	if tagged {
		meta.isHDR = isHDR
	}

	codecString, frameRate, err := g.probeSegmentCodec(ctx, segments[0])
	if err != nil {
		g.logger.Warn("segment codec probe failed, using defaults", "rendition", video.FolderName, "error", err)
		codecString = "avc1.640028"
		frameRate = 0
	}
	meta.codecString = codecString
	meta.frameRate = frameRate
	return meta, nil
}

func (g *Generator) probeAudioRendition(structure *OutputStructure, audio AudioOutput) (*renditionMeta, error) {
	folder := filepath.Join(structure.BasePath, audio.FolderName)
	segments, totalBytes, err := enumerateSegments(folder)
	if err != nil {
		return nil, err
	}
	if len(segments) == 0 {
		return nil, fmt.Errorf("audio rendition %s produced no segments", audio.FolderName)
	}
	return &renditionMeta{
		folderName:   audio.FolderName,
		language:     audio.Language,
		audioCodec:   audio.Codec,
		channels:     audio.Channels,
		totalBytes:   totalBytes,
		segmentCount: len(segments),
		playlistRel:  audio.FolderName + "/playlist.m3u8",
	}, nil
}

// probeSegmentCodec reads codec profile, level and frame rate from the
// first encoded segment.
func (g *Generator) probeSegmentCodec(ctx context.Context, segmentPath string) (string, float64, error) {
	output, err := g.runner.Output(ctx, g.ffprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_streams",
		"-select_streams", "v:0",
		segmentPath,
	)
	if err != nil {
		return "", 0, fmt.Errorf("segment probe failed: %w", err)
	}

	var doc struct {
		Streams []struct {
			CodecName  string `json:"codec_name"`
			Profile    string `json:"profile"`
			Level      int    `json:"level"`
			RFrameRate string `json:"r_frame_rate"`
		} `json:"streams"`
	}
	if err := json.Unmarshal(output, &doc); err != nil || len(doc.Streams) == 0 {
		return "", 0, fmt.Errorf("segment probe returned no video stream")
	}

	stream := doc.Streams[0]
	frameRate := media.ParseFrameRate(stream.RFrameRate)
	return VideoCodecString(stream.CodecName, stream.Profile, stream.Level), frameRate, nil
}

func enumerateSegments(folder string) ([]string, int64, error) {
	entries, err := os.ReadDir(folder)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to enumerate segments in %s: %w", folder, err)
	}
	var segments []string
	var total int64
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".ts") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		segments = append(segments, filepath.Join(folder, entry.Name()))
		total += info.Size()
	}
	sort.Strings(segments)
	return segments, total, nil
}

// writeRenditionPlaylist writes a VOD media playlist covering the
// rendition's segments. Every segment carries the target duration except
// the final remainder.
func (g *Generator) writeRenditionPlaylist(structure *OutputStructure, meta *renditionMeta, duration time.Duration) error {
	segDur := float64(g.segmentDuration)
	total := duration.Seconds()

	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")
	fmt.Fprintf(&b, "#EXT-X-TARGETDURATION:%d\n", g.segmentDuration)
	b.WriteString("#EXT-X-MEDIA-SEQUENCE:0\n")
	b.WriteString("#EXT-X-PLAYLIST-TYPE:VOD\n")

	for i := 0; i < meta.segmentCount; i++ {
		dur := segDur
		if i == meta.segmentCount-1 {
			if rem := total - segDur*float64(meta.segmentCount-1); rem > 0 && rem <= segDur {
				dur = rem
			}
		}
		fmt.Fprintf(&b, "#EXTINF:%.5f,\n", dur)
		fmt.Fprintf(&b, "segment_%05d.ts\n", i)
	}
	b.WriteString("#EXT-X-ENDLIST\n")

	path := filepath.Join(structure.BasePath, meta.folderName, "playlist.m3u8")
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("failed to write rendition playlist %s: %w", path, err)
	}
	return nil
}

// writeMasterPlaylist emits EXT-X-MEDIA entries for the audio renditions
// and one EXT-X-STREAM-INF per (video rendition, audio codec group) pair.
func (g *Generator) writeMasterPlaylist(structure *OutputStructure, metas []*renditionMeta, duration time.Duration) error {
	var videos, audios []*renditionMeta
	for _, meta := range metas {
		if meta.isVideo {
			videos = append(videos, meta)
		} else {
			audios = append(audios, meta)
		}
	}

	// Convention over configuration: when no folder in the output set
	// carries an explicit range tag, every rendition is treated as SDR.
	applyRangeDefault(videos)
	sortVideoRenditions(videos)
	g.sortAudioRenditions(audios)

	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:6\n")
	b.WriteString("#EXT-X-INDEPENDENT-SEGMENTS\n\n")

	audioGroups := groupAudioByCodec(audios)

	for _, group := range audioGroups {
		for i, audio := range group.renditions {
			isDefault := "NO"
			if i == 0 {
				isDefault = "YES"
			}
			fmt.Fprintf(&b,
				"#EXT-X-MEDIA:TYPE=AUDIO,GROUP-ID=%q,NAME=%q,LANGUAGE=%q,DEFAULT=%s,AUTOSELECT=YES,CHANNELS=%q,URI=%q\n",
				group.groupID, audio.language, audio.language, isDefault,
				fmt.Sprintf("%d", audio.channels), audio.playlistRel)
		}
	}
	if len(audioGroups) > 0 {
		b.WriteString("\n")
	}

	seconds := duration.Seconds()
	for _, video := range videos {
		avg := int64(float64(video.totalBytes*8)/seconds + 0.5)
		if len(audioGroups) == 0 {
			g.writeStreamInf(&b, video, nil, avg, seconds)
			continue
		}
		for _, group := range audioGroups {
			g.writeStreamInf(&b, video, &group, avg, seconds)
		}
	}

	if err := os.WriteFile(structure.MasterPlaylistPath, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("failed to write master playlist: %w", err)
	}
	g.logger.Info("master playlist written",
		"path", structure.MasterPlaylistPath,
		"video_renditions", len(videos),
		"audio_renditions", len(audios),
	)
	return nil
}

type audioGroup struct {
	codec      string
	groupID    string
	renditions []*renditionMeta
	bandwidth  int64
}

func groupAudioByCodec(audios []*renditionMeta) []audioGroup {
	var groups []audioGroup
	index := make(map[string]int)
	for _, audio := range audios {
		i, ok := index[audio.audioCodec]
		if !ok {
			i = len(groups)
			index[audio.audioCodec] = i
			groups = append(groups, audioGroup{
				codec:   audio.audioCodec,
				groupID: "audio-" + audio.audioCodec,
			})
		}
		groups[i].renditions = append(groups[i].renditions, audio)
		if bw := audio.totalBytes; bw > groups[i].bandwidth {
			groups[i].bandwidth = bw
		}
	}
	return groups
}

func (g *Generator) writeStreamInf(b *strings.Builder, video *renditionMeta, audio *audioGroup, avgBandwidth int64, seconds float64) {
	avg := avgBandwidth + audioOverheadBits
	peak := int64(float64(avg) * bandwidthHeadroom)

	codecs := video.codecString
	videoRange := "SDR"
	colourSpace := "BT.709"
	if video.isHDR {
		videoRange = "PQ"
		colourSpace = "BT.2020"
	}

	attrs := []string{
		fmt.Sprintf("BANDWIDTH=%d", peak),
		fmt.Sprintf("AVERAGE-BANDWIDTH=%d", avg),
		fmt.Sprintf("RESOLUTION=%dx%d", video.width, video.height),
	}
	if video.frameRate > 0 {
		attrs = append(attrs, fmt.Sprintf("FRAME-RATE=%.3f", video.frameRate))
	}
	if audio != nil {
		codecs = codecs + "," + AudioCodecString(audio.codec)
		attrs = append(attrs, fmt.Sprintf("AUDIO=%q", audio.groupID))
	}
	attrs = append(attrs,
		fmt.Sprintf("CODECS=%q", codecs),
		"VIDEO-RANGE="+videoRange,
		"COLOUR-SPACE="+colourSpace,
	)

	fmt.Fprintf(b, "#EXT-X-STREAM-INF:%s\n", strings.Join(attrs, ","))
	fmt.Fprintf(b, "%s\n", video.playlistRel)
}

// applyRangeDefault resets every rendition to SDR when no folder name in
// the set carries an explicit tag.
func applyRangeDefault(videos []*renditionMeta) {
	anyTagged := false
	for _, video := range videos {
		if _, tagged := parseRangeTag(video.folderName); tagged {
			anyTagged = true
			break
		}
	}
	if !anyTagged {
		for _, video := range videos {
			video.isHDR = false
		}
	}
}

// sortVideoRenditions groups by resolution (largest first) with SDR before
// HDR inside each group.
func sortVideoRenditions(videos []*renditionMeta) {
	sort.SliceStable(videos, func(i, j int) bool {
		pi, pj := videos[i].width*videos[i].height, videos[j].width*videos[j].height
		if pi != pj {
			return pi > pj
		}
		if videos[i].isHDR != videos[j].isHDR {
			return !videos[i].isHDR
		}
		return false
	})
}

// sortAudioRenditions orders by the priority-language list, then
// alphabetically, then by total encoded size.
func (g *Generator) sortAudioRenditions(audios []*renditionMeta) {
	rank := func(lang string) int {
		for i, p := range g.priorityLangs {
			if p == lang {
				return i
			}
		}
		return len(g.priorityLangs)
	}
	sort.SliceStable(audios, func(i, j int) bool {
		ri, rj := rank(audios[i].language), rank(audios[j].language)
		if ri != rj {
			return ri < rj
		}
		if audios[i].language != audios[j].language {
			return audios[i].language < audios[j].language
		}
		return audios[i].totalBytes > audios[j].totalBytes
	})
}
