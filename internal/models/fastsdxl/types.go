// Package fastsdxl holds request and response types for the Fast SDXL
// text-to-image and image-to-image endpoints.
package fastsdxl

import (
	"diffusion/internal/storage"
)

// Endpoint ids
const (
	TextToImageEndpoint  = "fal-ai/fast-sdxl"
	ImageToImageEndpoint = "fal-ai/fast-sdxl/image-to-image"
)

// SafetyCheckerVersion selects the safety model.
type SafetyCheckerVersion string

const (
	SafetyCheckerV1 SafetyCheckerVersion = "v1"
	SafetyCheckerV2 SafetyCheckerVersion = "v2"
)

// Format is the output image encoding.
type Format string

const (
	FormatJPEG Format = "jpeg"
	FormatPNG  Format = "png"
)

// LoraWeight references a LoRA to merge into the base model.
type LoraWeight struct {
	Path  string   `json:"path"`
	Scale *float64 `json:"scale,omitempty"`
	Force *bool    `json:"force,omitempty"`
}

// Embedding references a textual inversion embedding.
type Embedding struct {
	Path   string   `json:"path"`
	Tokens []string `json:"tokens,omitempty"`
}

// Input is the text-to-image request. Unset optional fields are left to
// server defaults.
type Input struct {
	Prompt               string                `json:"prompt"`
	NegativePrompt       *string               `json:"negative_prompt,omitempty"`
	ImageSize            *ImageSize            `json:"image_size,omitempty"`
	NumInferenceSteps    *int                  `json:"num_inference_steps,omitempty"`
	Seed                 *int64                `json:"seed,omitempty"`
	GuidanceScale        *float64              `json:"guidance_scale,omitempty"`
	SyncMode             *bool                 `json:"sync_mode,omitempty"`
	NumImages            *int                  `json:"num_images,omitempty"`
	Loras                []LoraWeight          `json:"loras,omitempty"`
	Embeddings           []Embedding           `json:"embeddings,omitempty"`
	EnableSafetyChecker  *bool                 `json:"enable_safety_checker,omitempty"`
	SafetyCheckerVersion *SafetyCheckerVersion `json:"safety_checker_version,omitempty"`
	ExpandPrompt         *bool                 `json:"expand_prompt,omitempty"`
	Format               *Format               `json:"format,omitempty"`
}

// ImageToImageInput transforms an existing image. Image may be inline
// bytes; it is uploaded before submission.
type ImageToImageInput struct {
	Input
	Image    storage.FileResource `json:"image_url"`
	Strength *float64             `json:"strength,omitempty"`
}

// FileFields implements storage.FileHolder.
func (in *ImageToImageInput) FileFields() []*storage.FileResource {
	return []*storage.FileResource{&in.Image}
}

// Image is one generated image.
type Image struct {
	URL         string  `json:"url"`
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	ContentType *string `json:"content_type,omitempty"`
}

// Output is the response of both endpoints.
type Output struct {
	Images          []Image `json:"images"`
	Seed            int64   `json:"seed"`
	HasNSFWConcepts []bool  `json:"has_nsfw_concepts"`
	Prompt          string  `json:"prompt"`
}

// Ptr returns a pointer to v, for filling optional fields.
func Ptr[T any](v T) *T {
	return &v
}

var _ storage.FileHolder = (*ImageToImageInput)(nil)
