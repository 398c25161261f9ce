// Package hls computes the on-disk rendition layout for adaptive output and
// generates the per-rendition and master playlists.
package hls

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/heliosmedia/helios/internal/media"
	"github.com/heliosmedia/helios/internal/types"
)

// VideoOutput is one video rendition's on-disk location.
type VideoOutput struct {
	FolderName     string
	Width          int
	Height         int
	IsHDR          bool
	PlaylistPath   string
	SegmentPattern string
}

// AudioOutput is one audio rendition's on-disk location.
type AudioOutput struct {
	FolderName     string
	Language       string
	Codec          string
	Channels       int
	PlaylistPath   string
	SegmentPattern string
}

// OutputStructure is the computed layout for one encode job. It is written
// to disk once and never mutated after generation completes.
type OutputStructure struct {
	BasePath           string
	BaseName           string
	MasterPlaylistPath string
	Videos             []VideoOutput
	Audios             []AudioOutput
}

// CreateOutputStructure computes the rendition layout for the given profile
// without touching the filesystem. Video folders are named by resolution and
// dynamic-range tag (video_1920x1080_SDR), audio folders by language and
// codec (audio_eng_aac).
func CreateOutputStructure(outputFolder, baseName string, analysis *media.StreamAnalysis, profile *types.EncoderProfile) (*OutputStructure, error) {
	if len(profile.Videos) == 0 && len(profile.Audios) == 0 {
		return nil, fmt.Errorf("profile %q has no video or audio renditions", profile.Name)
	}

	structure := &OutputStructure{
		BasePath:           outputFolder,
		BaseName:           baseName,
		MasterPlaylistPath: filepath.Join(outputFolder, baseName+".m3u8"),
	}

	for _, vp := range profile.Videos {
		isHDR := analysis.IsHDR && !vp.ConvertToSDR
		rangeTag := "SDR"
		if isHDR {
			rangeTag = "HDR"
		}
		folder := fmt.Sprintf("video_%dx%d_%s", vp.Width, vp.Height, rangeTag)
		structure.Videos = append(structure.Videos, VideoOutput{
			FolderName:     folder,
			Width:          vp.Width,
			Height:         vp.Height,
			IsHDR:          isHDR,
			PlaylistPath:   filepath.Join(outputFolder, folder, "playlist.m3u8"),
			SegmentPattern: filepath.Join(outputFolder, folder, "segment_%05d.ts"),
		})
	}

	audioLanguages := audioLanguagesFor(analysis)
	for _, ap := range profile.Audios {
		for _, lang := range audioLanguages {
			folder := fmt.Sprintf("audio_%s_%s", lang, ap.Codec)
			structure.Audios = append(structure.Audios, AudioOutput{
				FolderName:     folder,
				Language:       lang,
				Codec:          ap.Codec,
				Channels:       ap.Channels,
				PlaylistPath:   filepath.Join(outputFolder, folder, "playlist.m3u8"),
				SegmentPattern: filepath.Join(outputFolder, folder, "segment_%05d.ts"),
			})
		}
	}

	return structure, nil
}

// audioLanguagesFor returns the distinct source audio languages, in stream
// order. Untagged streams encode under "und".
func audioLanguagesFor(analysis *media.StreamAnalysis) []string {
	var langs []string
	seen := make(map[string]bool)
	for _, stream := range analysis.AudioStreams {
		lang := stream.Language
		if lang == "" {
			lang = "und"
		}
		if !seen[lang] {
			seen[lang] = true
			langs = append(langs, lang)
		}
	}
	if len(langs) == 0 {
		langs = []string{"und"}
	}
	return langs
}

// Layout converts the structure into the summary form carried by encode
// results.
func (s *OutputStructure) Layout() *types.OutputLayout {
	layout := &types.OutputLayout{
		BasePath:           s.BasePath,
		MasterPlaylistPath: s.MasterPlaylistPath,
	}
	for _, v := range s.Videos {
		layout.Videos = append(layout.Videos, types.RenditionOutput{
			FolderName:   v.FolderName,
			PlaylistPath: v.PlaylistPath,
		})
	}
	for _, a := range s.Audios {
		layout.Audios = append(layout.Audios, types.RenditionOutput{
			FolderName:   a.FolderName,
			PlaylistPath: a.PlaylistPath,
		})
	}
	return layout
}

// EnsureDirectories creates all rendition folders.
func (s *OutputStructure) EnsureDirectories() error {
	for _, v := range s.Videos {
		if err := os.MkdirAll(filepath.Join(s.BasePath, v.FolderName), 0o755); err != nil {
			return fmt.Errorf("failed to create rendition folder %s: %w", v.FolderName, err)
		}
	}
	for _, a := range s.Audios {
		if err := os.MkdirAll(filepath.Join(s.BasePath, a.FolderName), 0o755); err != nil {
			return fmt.Errorf("failed to create rendition folder %s: %w", a.FolderName, err)
		}
	}
	return nil
}

// parseRangeTag extracts the dynamic-range tag from a rendition folder name.
// The second return value reports whether an explicit tag was present.
func parseRangeTag(folderName string) (isHDR bool, tagged bool) {
	switch {
	case strings.HasSuffix(folderName, "_HDR"):
		return true, true
	case strings.HasSuffix(folderName, "_SDR"):
		return false, true
	default:
		return false, false
	}
}

// parseResolution extracts WxH from a video rendition folder name.
func parseResolution(folderName string) (width, height int, ok bool) {
	name := strings.TrimPrefix(folderName, "video_")
	name = strings.TrimSuffix(name, "_SDR")
	name = strings.TrimSuffix(name, "_HDR")
	w, h, found := strings.Cut(name, "x")
	if !found {
		return 0, 0, false
	}
	width, err1 := strconv.Atoi(w)
	height, err2 := strconv.Atoi(h)
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return width, height, true
}
