package alert

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// Synthesizer renders text as speech into an audio file.
type Synthesizer interface {
	// Synthesize writes the spoken text in language lang to path.
	Synthesize(ctx context.Context, text, lang, path string) error
	// Ext is the file extension of the produced audio, including the dot.
	Ext() string
}

// Google Translate text-to-speech endpoint limits.
const (
	DefaultGoogleTTSURL = "https://translate.google.com/translate_tts"
	maxGoogleChunk      = 100
)

// GoogleSynthesizer fetches MP3 speech from the Google Translate TTS endpoint.
type GoogleSynthesizer struct {
	BaseURL string
	Client  *http.Client
}

// NewGoogleSynthesizer creates a GoogleSynthesizer with the given request timeout.
func NewGoogleSynthesizer(timeout time.Duration) *GoogleSynthesizer {
	return &GoogleSynthesizer{
		BaseURL: DefaultGoogleTTSURL,
		Client:  &http.Client{Timeout: timeout},
	}
}

// Ext implements Synthesizer.
func (g *GoogleSynthesizer) Ext() string { return ".mp3" }

// Synthesize implements Synthesizer. Long text is requested in chunks and the
// MP3 segments are concatenated.
func (g *GoogleSynthesizer) Synthesize(ctx context.Context, text, lang, path string) error {
	chunks := splitText(text, maxGoogleChunk)
	if len(chunks) == 0 {
		return fmt.Errorf("nothing to synthesize")
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create audio file: %w", err)
	}

	for i, chunk := range chunks {
		if err := g.fetch(ctx, f, chunk, lang, i, len(chunks)); err != nil {
			f.Close()
			return err
		}
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("close audio file: %w", err)
	}
	return nil
}

func (g *GoogleSynthesizer) fetch(ctx context.Context, w io.Writer, chunk, lang string, idx, total int) error {
	q := url.Values{}
	q.Set("ie", "UTF-8")
	q.Set("client", "tw-ob")
	q.Set("tl", lang)
	q.Set("q", chunk)
	q.Set("idx", fmt.Sprint(idx))
	q.Set("total", fmt.Sprint(total))
	q.Set("textlen", fmt.Sprint(len(chunk)))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.BaseURL+"?"+q.Encode(), nil)
	if err != nil {
		return fmt.Errorf("build tts request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")

	client := g.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("tts request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("tts request: unexpected status %d", resp.StatusCode)
	}

	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("write tts audio: %w", err)
	}
	return nil
}

// splitText breaks text into chunks of at most max bytes on word boundaries.
// Words longer than max are cut.
func splitText(text string, max int) []string {
	var chunks []string
	var cur strings.Builder

	flush := func() {
		if cur.Len() > 0 {
			chunks = append(chunks, cur.String())
			cur.Reset()
		}
	}

	for _, word := range strings.Fields(text) {
		for len(word) > max {
			flush()
			chunks = append(chunks, word[:max])
			word = word[max:]
		}
		if cur.Len() > 0 && cur.Len()+1+len(word) > max {
			flush()
		}
		if cur.Len() > 0 {
			cur.WriteByte(' ')
		}
		cur.WriteString(word)
	}
	flush()

	return chunks
}

// DefaultSynthCommand renders WAV speech with espeak-ng.
var DefaultSynthCommand = []string{"espeak-ng", "-v", PlaceholderLang, "-w", PlaceholderOut, PlaceholderText}

// CommandSynthesizer runs a local text-to-speech program that writes WAV output.
type CommandSynthesizer struct {
	Command []string
	Timeout time.Duration
}

// NewCommandSynthesizer creates a CommandSynthesizer. An empty command uses DefaultSynthCommand.
func NewCommandSynthesizer(command []string, timeout time.Duration) *CommandSynthesizer {
	if len(command) == 0 {
		command = DefaultSynthCommand
	}
	return &CommandSynthesizer{Command: command, Timeout: timeout}
}

// Ext implements Synthesizer.
func (c *CommandSynthesizer) Ext() string { return ".wav" }

// Init verifies the synthesis program is installed.
func (c *CommandSynthesizer) Init() error {
	return lookCommand(c.Command)
}

// Synthesize implements Synthesizer.
func (c *CommandSynthesizer) Synthesize(ctx context.Context, text, lang, path string) error {
	argv := expandCommand(c.Command, map[string]string{
		PlaceholderText: text,
		PlaceholderLang: lang,
		PlaceholderOut:  path,
	})
	if err := runCommand(ctx, c.Timeout, argv); err != nil {
		return fmt.Errorf("synthesize: %w", err)
	}

	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("synthesize: no audio produced: %w", err)
	}
	return nil
}
