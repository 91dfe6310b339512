package ocr

import (
	"context"
	"fmt"

	vision "cloud.google.com/go/vision/v2/apiv1"
	"cloud.google.com/go/vision/v2/apiv1/visionpb"
	"google.golang.org/api/option"
)

// VisionCredentials selects how the Vision client authenticates
type VisionCredentials struct {
	JSON string
	File string
}

// VisionEngine recognizes text with the Google Cloud Vision API
type VisionEngine struct {
	client *vision.ImageAnnotatorClient
}

// NewVisionFactory returns a factory creating one Vision client per recognition pass
func NewVisionFactory(creds VisionCredentials) EngineFactory {
	return func(ctx context.Context) (Engine, error) {
		return NewVisionEngine(ctx, creds)
	}
}

// NewVisionEngine creates a Vision-backed engine
func NewVisionEngine(ctx context.Context, creds VisionCredentials) (*VisionEngine, error) {
	const op = "NewVisionEngine"

	var opts []option.ClientOption
	switch {
	case creds.JSON != "":
		opts = append(opts, option.WithCredentialsJSON([]byte(creds.JSON)))
	case creds.File != "":
		opts = append(opts, option.WithCredentialsFile(creds.File))
	}

	client, err := vision.NewImageAnnotatorClient(ctx, opts...)
	if err != nil {
		return nil, WrapOCRError(op, ErrEngineUnavailable, err.Error())
	}

	return &VisionEngine{client: client}, nil
}

// Recognize runs TEXT_DETECTION over the image
func (v *VisionEngine) Recognize(ctx context.Context, image []byte) (Recognition, error) {
	const op = "Recognize"

	req := &visionpb.BatchAnnotateImagesRequest{
		Requests: []*visionpb.AnnotateImageRequest{
			{
				Image: &visionpb.Image{Content: image},
				Features: []*visionpb.Feature{
					{Type: visionpb.Feature_TEXT_DETECTION},
				},
			},
		},
	}

	resp, err := v.client.BatchAnnotateImages(ctx, req)
	if err != nil {
		return Recognition{}, WrapOCRError(op, err, "Vision API call failed")
	}
	if len(resp.Responses) == 0 {
		return Recognition{}, WrapOCRError(op, ErrRecognitionFailed, "no response from Vision API")
	}

	imageResp := resp.Responses[0]
	if imageResp.Error != nil {
		return Recognition{}, WrapOCRError(op, ErrRecognitionFailed, fmt.Sprintf("Vision API error: %s", imageResp.Error.Message))
	}

	return recognitionFromResponse(imageResp), nil
}

func recognitionFromResponse(resp *visionpb.AnnotateImageResponse) Recognition {
	var rec Recognition

	if resp.FullTextAnnotation != nil {
		rec.Text = resp.FullTextAnnotation.Text

		var sum float64
		var count int
		for _, page := range resp.FullTextAnnotation.Pages {
			if page.Confidence > 0 {
				sum += float64(page.Confidence)
				count++
			}
		}
		if count > 0 {
			avg := sum / float64(count)
			rec.Confidence = &avg
		}
	} else if len(resp.TextAnnotations) > 0 {
		// the first annotation holds the whole detected text
		rec.Text = resp.TextAnnotations[0].Description
	}

	return rec
}

// Close releases the Vision client
func (v *VisionEngine) Close() error {
	if v.client != nil {
		return v.client.Close()
	}
	return nil
}
