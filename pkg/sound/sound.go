package sound

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	mp3 "github.com/hajimehoshi/go-mp3"
)

// Download fetches the audio at u into output.
func Download(ctx context.Context, client *http.Client, u, output string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("sound: couldn't create request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("sound: couldn't download audio: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("sound: couldn't download audio: status %d", resp.StatusCode)
	}

	f, err := os.Create(output)
	if err != nil {
		return fmt.Errorf("sound: couldn't create file: %w", err)
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		_ = f.Close()
		return fmt.Errorf("sound: couldn't write file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("sound: couldn't close file: %w", err)
	}
	return nil
}

// Duration decodes the mp3 file at path and returns its length.
func Duration(path string) (time.Duration, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("sound: couldn't open file: %w", err)
	}
	defer f.Close()
	decoder, err := mp3.NewDecoder(f)
	if err != nil {
		return 0, fmt.Errorf("sound: couldn't decode mp3: %w", err)
	}
	rate := decoder.SampleRate()
	if rate <= 0 {
		return 0, fmt.Errorf("sound: invalid sample rate %d", rate)
	}
	// Decoded stream is 16-bit stereo: 4 bytes per sample.
	samples := decoder.Length() / 4
	return time.Duration(float64(samples) / float64(rate) * float64(time.Second)), nil
}
