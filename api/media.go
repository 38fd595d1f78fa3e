package api

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
)

// UploadImage sends an image as multipart form field "file".
func (c *Client) UploadImage(ctx context.Context, filename string, r io.Reader) (*Media, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("api upload: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return nil, fmt.Errorf("api upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("api upload: %w", err)
	}

	var m Media
	if err := c.doRaw(ctx, http.MethodPost, "/media/upload", mw.FormDataContentType(), &buf, &m); err != nil {
		return nil, err
	}
	return &m, nil
}
