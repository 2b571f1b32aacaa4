package jobmanager

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestDefaultOptionsEnablesEveryPipelineByDefault(t *testing.T) {
	o := DefaultOptions()
	if !o.EnableText || !o.EnableThumb || !o.EnableTextVec || !o.EnableImgVec || !o.EnableBm25 {
		t.Fatalf("expected every pipeline enabled by default: %+v", o)
	}
	if o.EnableOCRFallback {
		t.Fatalf("expected OCR fallback disabled by default")
	}
	if o.MaxRetries != 8 {
		t.Fatalf("MaxRetries = %d, want 8", o.MaxRetries)
	}
}

func TestDecodeOptionsEmptyBodyReturnsDefaults(t *testing.T) {
	o, err := DecodeOptions(nil)
	if err != nil {
		t.Fatalf("DecodeOptions(nil): %v", err)
	}
	if !reflect.DeepEqual(o, DefaultOptions()) {
		t.Fatalf("expected defaults for an empty body")
	}
}

func TestDecodeOptionsOverridesOnlyProvidedFields(t *testing.T) {
	o, err := DecodeOptions([]byte(`{"enable_img_vec": false, "force_rebuild": true}`))
	if err != nil {
		t.Fatalf("DecodeOptions: %v", err)
	}
	if o.EnableImgVec {
		t.Fatalf("expected enable_img_vec overridden to false")
	}
	if !o.ForceRebuild {
		t.Fatalf("expected force_rebuild overridden to true")
	}
	if !o.EnableText {
		t.Fatalf("expected untouched fields to keep their default value")
	}
	if o.TextEmbedModel != "text-embedding-3-large" {
		t.Fatalf("expected TextEmbedModel to keep its default, got %q", o.TextEmbedModel)
	}
}

func TestDecodeOptionsRejectsInvalidJSON(t *testing.T) {
	if _, err := DecodeOptions([]byte("not json")); err == nil {
		t.Fatalf("expected an error decoding invalid JSON")
	}
}

func TestParamsForThumbEncodesDimensionsAndAspect(t *testing.T) {
	o := DefaultOptions()
	raw := paramsForThumb(o, "16:9")
	if len(raw) == 0 {
		t.Fatalf("expected non-empty params json")
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["aspect"] != "16:9" {
		t.Fatalf("aspect = %v, want 16:9", decoded["aspect"])
	}
}

func TestParamsForTextVecEncodesModel(t *testing.T) {
	o := DefaultOptions()
	raw := paramsForTextVec(o)
	var decoded map[string]interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["model"] != o.TextEmbedModel {
		t.Fatalf("model = %v, want %v", decoded["model"], o.TextEmbedModel)
	}
}
