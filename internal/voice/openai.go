package voice

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// OpenAIProvider backs both transcription and reply generation with the
// OpenAI API: Whisper for speech-to-text, a chat model for the assistant.
type OpenAIProvider struct {
	client       oai.Client
	chatModel    string
	instructions string
}

func NewOpenAIProvider(apiKey, chatModel, instructions string) (*OpenAIProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}
	if chatModel == "" {
		return nil, fmt.Errorf("openai: chatModel must not be empty")
	}
	return &OpenAIProvider{
		client:       oai.NewClient(option.WithAPIKey(apiKey)),
		chatModel:    chatModel,
		instructions: instructions,
	}, nil
}

// Transcribe sends one phrase WAV to Whisper and returns the recognized text.
func (p *OpenAIProvider) Transcribe(ctx context.Context, wav []byte, language string) (string, error) {
	params := oai.AudioTranscriptionNewParams{
		Model: oai.AudioModelWhisper1,
		File:  oai.File(bytes.NewReader(wav), "phrase.wav", "audio/wav"),
	}
	if language != "" {
		params.Language = oai.String(language)
	}
	resp, err := p.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai: transcription: %w", err)
	}
	return strings.TrimSpace(resp.Text), nil
}

// Reply asks the chat model for the next assistant line given the retained
// history window and the caller's latest utterance.
func (p *OpenAIProvider) Reply(ctx context.Context, history []Turn, userText string) (string, error) {
	messages := make([]oai.ChatCompletionMessageParamUnion, 0, len(history)+2)
	if p.instructions != "" {
		messages = append(messages, oai.SystemMessage(p.instructions))
	}
	for _, t := range history {
		switch t.Role {
		case RoleAssistant:
			messages = append(messages, oai.AssistantMessage(t.Text))
		default:
			messages = append(messages, oai.UserMessage(t.Text))
		}
	}
	messages = append(messages, oai.UserMessage(userText))

	resp, err := p.client.Chat.Completions.New(ctx, oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(p.chatModel),
		Messages: messages,
	})
	if err != nil {
		return "", fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai: empty choices in response")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
