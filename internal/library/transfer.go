package library

import (
	"bytes"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/whitecloud/save-agent/internal/server"
)

// Transfer moves archive bytes to and from the remote object store. Upload
// uses the signed form-post grant the gateway issues; download uses a
// short-lived signed URL.
type Transfer struct {
	client *http.Client
}

func NewTransfer() *Transfer {
	return &Transfer{client: &http.Client{Timeout: 5 * time.Minute}}
}

// Upload posts the archive under the grant and returns the object path the
// remote store now holds it at.
func (t *Transfer) Upload(sig *server.SaveSignature, archivePath string) (string, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return "", fmt.Errorf("failed to open archive: %w", err)
	}
	defer f.Close()

	key := sig.Dir + filepath.Base(archivePath)

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	fields := map[string]string{
		"key":                   key,
		"policy":                sig.Policy,
		"OSSAccessKeyId":        sig.AccessKey,
		"signature":             sig.Signature,
		"callback":              sig.Callback,
		"success_action_status": "200",
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return "", err
		}
	}
	part, err := w.CreateFormFile("file", filepath.Base(archivePath))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", fmt.Errorf("failed to read archive: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequest(http.MethodPost, sig.Host, &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("upload rejected with status %d", resp.StatusCode)
	}
	return key, nil
}

// Download fetches a signed URL into destFile, creating parent directories
// as needed. The file is written through a temp name so a failed download
// never leaves a truncated archive behind.
func (t *Transfer) Download(url, destFile string) error {
	if err := os.MkdirAll(filepath.Dir(destFile), 0o755); err != nil {
		return err
	}

	resp, err := t.client.Get(url)
	if err != nil {
		return fmt.Errorf("download request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download rejected with status %d", resp.StatusCode)
	}

	tmp := destFile + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to write archive: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, destFile)
}
