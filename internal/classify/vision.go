package classify

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/itrash/kiosk/internal/state"
)

// prompt instructs the vision model to answer with a single-key JSON object
// naming one of the three receptacle colors.
const prompt = `I'm going to give you an image and you have to tell me in which bin I should throw the trash.
You can choose among 3 different colors of bin: blue (cardboard and paper), yellow (plastic and metal) and brown (organic).
You will return just a dictionary, with "trash_class" as the key, and the color you choose as the value (e.g. {"trash_class":"<color>"}).
If there is no object, the value will be "", but if there is an object, you are forced to choose one of the 3 colors.`

// VisionClient calls an OpenAI-style vision endpoint with one image frame and
// parses the returned category label. One call per Classify; retry policy
// lives in the Coordinator.
type VisionClient struct {
	url    string
	model  string
	apiKey string
	client *http.Client
}

// NewVisionClient creates a classifier client. timeout bounds each HTTP call.
func NewVisionClient(url, model, apiKey string, timeout time.Duration) *VisionClient {
	return &VisionClient{
		url:    url,
		model:  model,
		apiKey: apiKey,
		client: &http.Client{Timeout: timeout},
	}
}

type visionRequest struct {
	Model     string          `json:"model"`
	Messages  []visionMessage `json:"messages"`
	MaxTokens int             `json:"max_tokens"`
}

type visionMessage struct {
	Role    string          `json:"role"`
	Content []visionContent `json:"content"`
}

type visionContent struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL *visionImageURL `json:"image_url,omitempty"`
}

type visionImageURL struct {
	URL string `json:"url"`
}

type visionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Classify submits one JPEG frame and returns the label the service chose.
// The label is not validated here; callers check it against the closed set.
func (v *VisionClient) Classify(ctx context.Context, image []byte) (state.Category, error) {
	encoded := base64.StdEncoding.EncodeToString(image)

	reqBody := visionRequest{
		Model:     v.model,
		MaxTokens: 50,
		Messages: []visionMessage{{
			Role: "user",
			Content: []visionContent{
				{Type: "text", Text: prompt},
				{Type: "image_url", ImageURL: &visionImageURL{
					URL: "data:image/jpeg;base64," + encoded,
				}},
			},
		}},
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return state.CategoryUndetermined, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.url, bytes.NewReader(payload))
	if err != nil {
		return state.CategoryUndetermined, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if v.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+v.apiKey)
	}

	resp, err := v.client.Do(req)
	if err != nil {
		return state.CategoryUndetermined, fmt.Errorf("classification request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return state.CategoryUndetermined, fmt.Errorf("classification service returned %d: %s", resp.StatusCode, body)
	}

	var vr visionResponse
	if err := json.NewDecoder(resp.Body).Decode(&vr); err != nil {
		return state.CategoryUndetermined, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(vr.Choices) == 0 {
		return state.CategoryUndetermined, fmt.Errorf("empty response from classification service")
	}

	var label struct {
		TrashClass string `json:"trash_class"`
	}
	if err := json.Unmarshal([]byte(vr.Choices[0].Message.Content), &label); err != nil {
		return state.CategoryUndetermined, fmt.Errorf("unparseable label %q: %w", vr.Choices[0].Message.Content, err)
	}

	return state.Category(label.TrashClass), nil
}
