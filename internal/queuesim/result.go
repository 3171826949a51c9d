package queuesim

import (
	"diffusion/internal/models/fastsdxl"
	"encoding/json"
	"fmt"
)

const defaultSeed = 42

var presetDimensions = map[fastsdxl.Preset][2]int{
	fastsdxl.SquareHD:      {1024, 1024},
	fastsdxl.Square:        {512, 512},
	fastsdxl.Portrait4x3:   {768, 1024},
	fastsdxl.Portrait16x9:  {576, 1024},
	fastsdxl.Landscape4x3:  {1024, 768},
	fastsdxl.Landscape16x9: {1024, 576},
}

// FastSDXLResult answers any request with a Fast SDXL output echoing the
// prompt, seed, image count and size of the submitted input.
func FastSDXLResult(_, requestID string, raw json.RawMessage) (any, error) {
	var input fastsdxl.Input
	if err := json.Unmarshal(raw, &input); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}

	width, height := fastsdxl.DefaultWidth, fastsdxl.DefaultHeight
	if input.ImageSize != nil {
		if w, h, ok := input.ImageSize.Dimensions(); ok {
			width, height = w, h
		} else if p, ok := input.ImageSize.Preset(); ok {
			dims := presetDimensions[p]
			width, height = dims[0], dims[1]
		}
	}

	count := 1
	if input.NumImages != nil && *input.NumImages > 0 {
		count = *input.NumImages
	}
	seed := int64(defaultSeed)
	if input.Seed != nil {
		seed = *input.Seed
	}

	contentType := "image/jpeg"
	if input.Format != nil && *input.Format == fastsdxl.FormatPNG {
		contentType = "image/png"
	}

	out := fastsdxl.Output{Seed: seed, Prompt: input.Prompt}
	for i := range count {
		out.Images = append(out.Images, fastsdxl.Image{
			URL:         fmt.Sprintf("https://cdn.queuesim.local/%s/%d", requestID, i),
			Width:       width,
			Height:      height,
			ContentType: &contentType,
		})
		out.HasNSFWConcepts = append(out.HasNSFWConcepts, false)
	}
	return out, nil
}
