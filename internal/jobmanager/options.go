package jobmanager

import (
	"encoding/json"

	"gorm.io/datatypes"
)

// FileScan is a frontend-supplied candidate file with the metadata needed
// to skip a redundant filesystem stat, mirroring the shape the desktop UI
// already has in hand after its own directory listing.
type FileScan struct {
	Path       string `json:"path"`
	SizeBytes  int64  `json:"size_bytes"`
	MtimeEpoch int64  `json:"mtime_epoch"`
}

// Options is the typed replacement for the original dynamic options dict —
// every knob spec.md's Design Notes name lives here as a field.
type Options struct {
	EnableText    bool `json:"enable_text"`
	EnableThumb   bool `json:"enable_thumb"`
	EnableTextVec bool `json:"enable_text_vec"`
	EnableImgVec  bool `json:"enable_img_vec"`
	EnableBm25    bool `json:"enable_bm25"`
	EnableOCRFallback bool `json:"enable_ocr_fallback"`
	ForceRebuild  bool `json:"force_rebuild"`

	CommitEveryPages int `json:"commit_every_pages"`
	CommitEverySec   int `json:"commit_every_sec"`

	PDFTimeoutSec int    `json:"pdf_timeout_sec"`
	PDFPrefer     string `json:"pdf_prefer"`

	ThumbWidth        int `json:"thumb_width"`
	ThumbHeight43     int `json:"thumb_height_4_3"`
	ThumbHeight169    int `json:"thumb_height_16_9"`
	ThumbRenderDPI    int `json:"thumb_render_dpi"`

	TextEmbedModel  string `json:"text_embed_model"`
	ImageEmbedModel string `json:"image_embed_model"`

	WatchdogThresholdSec int     `json:"watchdog_threshold_sec"`
	ReqPerMin            float64 `json:"req_per_min"`
	TokPerMin            float64 `json:"tok_per_min"`
	MaxRetries           int     `json:"max_retries"`
	EmbedBatchSize       int     `json:"embed_batch_size"`

	// FilePaths/FileScans select what Planner scans; FileScans (frontend
	// stat results) take priority over FilePaths (paths only, re-stat'd
	// locally) when both are present. Neither present + a bare
	// library_root means "scan the root non-recursively".
	FilePaths []string   `json:"file_paths,omitempty"`
	FileScans []FileScan `json:"file_scans,omitempty"`
	Recursive bool       `json:"recursive"`
}

// DefaultOptions mirrors the original JobOptions default construction:
// everything enabled, one-page checkpoints, generous embedding retries.
func DefaultOptions() Options {
	return Options{
		EnableText:           true,
		EnableThumb:          true,
		EnableTextVec:        true,
		EnableImgVec:         true,
		EnableBm25:           true,
		CommitEveryPages:     1,
		CommitEverySec:       5,
		PDFTimeoutSec:        180,
		PDFPrefer:            "auto",
		ThumbWidth:           320,
		ThumbHeight43:        240,
		ThumbHeight169:       180,
		ThumbRenderDPI:       144,
		TextEmbedModel:       "text-embedding-3-large",
		ImageEmbedModel:      "image-embedding-1",
		WatchdogThresholdSec: 30,
		ReqPerMin:            120,
		TokPerMin:            200000,
		MaxRetries:           8,
		EmbedBatchSize:       64,
	}
}

// DecodeOptions unmarshals a request body over the defaults, so a client
// only needs to send the fields it wants to override.
func DecodeOptions(raw []byte) (Options, error) {
	opts := DefaultOptions()
	if len(raw) == 0 {
		return opts, nil
	}
	if err := json.Unmarshal(raw, &opts); err != nil {
		return Options{}, err
	}
	return opts, nil
}

func paramsForText() datatypes.JSON { return datatypes.JSON(`{"v":1}`) }
func paramsForBm25() datatypes.JSON { return datatypes.JSON(`{"v":1}`) }

func paramsForThumb(o Options, aspect string) datatypes.JSON {
	raw, _ := json.Marshal(map[string]interface{}{
		"v": 1, "w": o.ThumbWidth, "h43": o.ThumbHeight43, "h169": o.ThumbHeight169, "aspect": aspect,
	})
	return datatypes.JSON(raw)
}

func paramsForTextVec(o Options) datatypes.JSON {
	raw, _ := json.Marshal(map[string]interface{}{"v": 1, "model": o.TextEmbedModel})
	return datatypes.JSON(raw)
}

func paramsForImgVec(o Options) datatypes.JSON {
	raw, _ := json.Marshal(map[string]interface{}{"v": 1, "model": o.ImageEmbedModel})
	return datatypes.JSON(raw)
}
