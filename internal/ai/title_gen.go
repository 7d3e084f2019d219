package ai

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"video-autopost/internal/logging"
)

const titleModel = "gemini-2.0-flash"

type TitleGenerator struct {
	apiKey  string
	baseURL string // overrides the Gemini endpoint, empty for the default
	log     *logging.Logger
}

func NewTitleGenerator(apiKey string, log *logging.Logger) *TitleGenerator {
	if log == nil {
		log = logging.Discard()
	}
	return &TitleGenerator{apiKey: apiKey, log: log}
}

// GenerateTitle asks Gemini for a short Shorts/Reels title based on the file
// name and caption. Without an api key the humanized file name is returned.
func (tg *TitleGenerator) GenerateTitle(ctx context.Context, stem, caption string) (string, error) {
	fallback := FallbackTitle(stem)
	if tg.apiKey == "" {
		tg.log.Infof("ai: no api key, using fallback title")
		return fallback, nil
	}

	cc := &genai.ClientConfig{
		APIKey:  tg.apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if tg.baseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: tg.baseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return fallback, fmt.Errorf("genai client: %w", err)
	}

	prompt := fmt.Sprintf(
		"Você é um redator criativo de vídeos curtos. "+
			"Crie um título curto (até 70 caracteres) e chamativo para um Short/Reel chamado '%s' com a legenda '%s'. "+
			"Responda apenas com o título, em português, sem hashtags e sem aspas.",
		fallback, caption,
	)

	resp, err := client.Models.GenerateContent(ctx, titleModel, []*genai.Content{
		genai.NewContentFromText(prompt, genai.RoleUser),
	}, nil)
	if err != nil {
		return fallback, fmt.Errorf("generate content: %w", err)
	}

	title := strings.Trim(strings.TrimSpace(resp.Text()), `"'`)
	if title == "" {
		return fallback, nil
	}
	return title, nil
}

// FallbackTitle turns a file stem like "my_cool-video" into "my cool video".
func FallbackTitle(stem string) string {
	t := strings.NewReplacer("_", " ", "-", " ", ".", " ").Replace(stem)
	return strings.Join(strings.Fields(t), " ")
}
