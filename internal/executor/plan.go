package executor

import (
	"fmt"
	"math"
	"path/filepath"

	"vlog/internal/models"
)

// qualityDimensions maps the rendition ladder rungs to target dimensions.
// "original" passes the source through unscaled (resolved per-job from the
// probed source, not listed here).
var qualityDimensions = map[models.Quality][2]int{
	models.Quality360p:  {640, 360},
	models.Quality480p:  {854, 480},
	models.Quality720p:  {1280, 720},
	models.Quality1080p: {1920, 1080},
	models.Quality1440p: {2560, 1440},
	models.Quality2160p: {3840, 2160},
}

// renditionLadder returns every standard rung at or below the source
// height, always including at least the lowest rung, plus "original" so
// the source's native resolution is always produced once.
func renditionLadder(sourceHeight int) []models.Quality {
	order := []models.Quality{
		models.Quality360p, models.Quality480p, models.Quality720p,
		models.Quality1080p, models.Quality1440p, models.Quality2160p,
	}
	var ladder []models.Quality
	for _, q := range order {
		if qualityDimensions[q][1] <= sourceHeight {
			ladder = append(ladder, q)
		}
	}
	if len(ladder) == 0 {
		ladder = append(ladder, models.Quality360p)
	}
	ladder = append(ladder, models.QualityOrig)
	return ladder
}

// renditionPlan is one quality's ffmpeg invocation plus the segment layout
// internal/pipeline needs to watch for it.
type renditionPlan struct {
	Args              []string
	PlaylistName      string
	EstimatedSegments int
}

const hlsSegmentSeconds = 4

// buildRenditionPlan builds the ffmpeg args for one quality, following the
// teacher's scale-filter/bitrate-ladder/HLS-flag conventions but for a
// single-variant process (internal/pipeline drives one Pipeline per
// quality, so there is no need for ffmpeg's var_stream_map multi-output
// here).
func buildRenditionPlan(quality models.Quality, sourcePath, outDir string, format models.StreamingFormat, probe sourceProbe) (*renditionPlan, error) {
	width, height := targetDimensions(quality, probe)
	videoBitrate := defaultVideoBitrate(height)
	audioBitrate := defaultAudioBitrate(videoBitrate)
	profile := videoProfileForHeight(height)
	maxRate := int(math.Round(float64(videoBitrate) * 1.08))
	if maxRate <= videoBitrate {
		maxRate = videoBitrate + 1
	}

	args := []string{"-y", "-i", sourcePath}
	if quality != models.QualityOrig {
		args = append(args, "-vf", buildScaleFilter(width, height))
	}
	args = append(args,
		"-c:v", "libx264",
		"-profile:v", profile,
		"-pix_fmt", "yuv420p",
		"-b:v", fmt.Sprintf("%dk", videoBitrate),
		"-maxrate", fmt.Sprintf("%dk", maxRate),
		"-bufsize", fmt.Sprintf("%dk", videoBitrate*2),
		"-g", "48",
		"-keyint_min", "48",
		"-sc_threshold", "0",
		"-c:a", "aac",
		"-b:a", fmt.Sprintf("%dk", audioBitrate),
		"-ac", "2",
		"-ar", "48000",
	)

	switch format {
	case models.FormatCMAF:
		segmentPattern := filepath.ToSlash(filepath.Join(outDir, "segment_%06d.m4s"))
		args = append(args,
			"-f", "hls",
			"-hls_segment_type", "fmp4",
			"-hls_time", fmt.Sprintf("%d", hlsSegmentSeconds),
			"-hls_list_size", "0",
			"-hls_flags", "independent_segments",
			"-hls_fmp4_init_filename", "init.mp4",
			"-hls_segment_filename", segmentPattern,
			filepath.ToSlash(filepath.Join(outDir, "playlist.m3u8")),
		)
	default: // models.FormatHLSTS
		segmentPattern := filepath.ToSlash(filepath.Join(outDir, "segment_%06d.ts"))
		args = append(args,
			"-f", "hls",
			"-hls_time", fmt.Sprintf("%d", hlsSegmentSeconds),
			"-hls_list_size", "0",
			"-hls_flags", "independent_segments",
			"-hls_segment_filename", segmentPattern,
			filepath.ToSlash(filepath.Join(outDir, "playlist.m3u8")),
		)
	}

	estimated := 0
	if probe.Duration > 0 {
		estimated = int(math.Ceil(probe.Duration / hlsSegmentSeconds))
	}

	return &renditionPlan{Args: args, PlaylistName: "playlist.m3u8", EstimatedSegments: estimated}, nil
}

func targetDimensions(quality models.Quality, probe sourceProbe) (int, int) {
	if quality == models.QualityOrig {
		return ensureEven(probe.Width), ensureEven(probe.Height)
	}
	dims, ok := qualityDimensions[quality]
	if !ok {
		return ensureEven(probe.Width), ensureEven(probe.Height)
	}
	return ensureEven(dims[0]), ensureEven(dims[1])
}

func buildScaleFilter(width, height int) string {
	return fmt.Sprintf("scale=w=%d:h=%d:force_original_aspect_ratio=decrease,setsar=1,pad=%d:%d:(ow-iw)/2:(oh-ih)/2", width, height, width, height)
}

func ensureEven(value int) int {
	if value <= 0 {
		return 2
	}
	if value%2 != 0 {
		return value + 1
	}
	return value
}

// defaultVideoBitrate mirrors the teacher's height-to-bitrate ladder.
func defaultVideoBitrate(height int) int {
	switch {
	case height >= 1080:
		return 6000
	case height >= 720:
		return 4000
	case height >= 540:
		return 3000
	case height >= 480:
		return 2200
	case height >= 360:
		return 1200
	case height >= 240:
		return 700
	default:
		return 500
	}
}

func defaultAudioBitrate(videoBitrate int) int {
	switch {
	case videoBitrate >= 5000:
		return 192
	case videoBitrate >= 3000:
		return 160
	case videoBitrate >= 1500:
		return 128
	case videoBitrate >= 800:
		return 96
	case videoBitrate > 0:
		return 64
	default:
		return 0
	}
}

func videoProfileForHeight(height int) string {
	switch {
	case height >= 720:
		return "high"
	case height >= 480:
		return "main"
	default:
		return "baseline"
	}
}
