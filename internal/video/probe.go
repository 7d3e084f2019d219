package video

import (
	"fmt"

	"github.com/tidwall/gjson"
	ffmpeg "github.com/u2takey/ffmpeg-go"

	"video-autopost/internal/model"
)

// Probe fills duration and resolution using ffprobe. Callers treat errors as
// informational: a missing ffprobe binary must never block a run.
func Probe(v *model.PendingVideo) error {
	out, err := ffmpeg.Probe(v.Path)
	if err != nil {
		return fmt.Errorf("ffprobe %s: %w", v.Name, err)
	}
	return applyProbe(v, []byte(out))
}

func applyProbe(v *model.PendingVideo, data []byte) error {
	if !gjson.ValidBytes(data) {
		return fmt.Errorf("ffprobe %s: invalid json output", v.Name)
	}
	v.DurationS = gjson.GetBytes(data, "format.duration").Float()
	stream := gjson.GetBytes(data, `streams.#(codec_type=="video")`)
	if stream.Exists() {
		v.Width = int(stream.Get("width").Int())
		v.Height = int(stream.Get("height").Int())
	}
	return nil
}

// IsVertical reports whether the probed resolution is portrait, which is what
// Shorts and Reels expect.
func IsVertical(v *model.PendingVideo) bool {
	return v.Width > 0 && v.Height > v.Width
}
