package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"sort"
	"strings"
	"time"
)

type UploadRequest struct {
	Filename    string
	ContentType string
	Body        io.Reader
	// Size is the exact length of Body in bytes.
	Size   int64
	Fields map[string]string
}

// Progress is reported while the request body is being sent.
type Progress struct {
	Sent  int64
	Total int64
	// BytesPerSecond is the average rate since the upload started.
	BytesPerSecond float64
	Elapsed        time.Duration
}

type UploadResult struct {
	StatusCode int
	// UploadID is empty when the server reply carried no usable id; the
	// upload itself went through.
	UploadID string
}

// Upload streams the file as multipart/form-data. onProgress may be nil.
func (c *Client) Upload(ctx context.Context, ur UploadRequest, onProgress func(Progress)) (*UploadResult, error) {
	const op = "client.Upload"

	head, tail, contentType, err := envelope(ur)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	total := int64(len(head)) + ur.Size + int64(len(tail))

	body := &progressReader{
		r:          io.MultiReader(bytes.NewReader(head), io.LimitReader(ur.Body, ur.Size), bytes.NewReader(tail)),
		total:      total,
		started:    c.now(),
		now:        c.now,
		onProgress: onProgress,
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+uploadPath, body)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	req.ContentLength = total
	req.Header.Set("Content-Type", contentType)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%s: %w", op, decodeAPIError(resp))
	}

	res := &UploadResult{StatusCode: resp.StatusCode}
	var reply struct {
		UploadID string `json:"uploadId"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&reply); err == nil {
		res.UploadID = strings.TrimSpace(reply.UploadID)
	}
	return res, nil
}

// envelope renders the multipart framing around the file content so the
// body length is known before streaming starts.
func envelope(ur UploadRequest) (head, tail []byte, contentType string, err error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	names := make([]string, 0, len(ur.Fields))
	for name := range ur.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := mw.WriteField(name, ur.Fields[name]); err != nil {
			return nil, nil, "", err
		}
	}

	ct := ur.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", multipart.FileContentDisposition("file", ur.Filename))
	h.Set("Content-Type", ct)
	if _, err := mw.CreatePart(h); err != nil {
		return nil, nil, "", err
	}

	headLen := buf.Len()
	if err := mw.Close(); err != nil {
		return nil, nil, "", err
	}
	all := buf.Bytes()
	return all[:headLen], all[headLen:], mw.FormDataContentType(), nil
}

type progressReader struct {
	r          io.Reader
	sent       int64
	total      int64
	started    time.Time
	now        func() time.Time
	onProgress func(Progress)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.sent += int64(n)
		if p.onProgress != nil {
			p.onProgress(p.progress())
		}
	}
	return n, err
}

func (p *progressReader) progress() Progress {
	elapsed := p.now().Sub(p.started)
	pr := Progress{Sent: p.sent, Total: p.total, Elapsed: elapsed}
	if secs := elapsed.Seconds(); secs > 0 {
		pr.BytesPerSecond = float64(p.sent) / secs
	}
	return pr
}
