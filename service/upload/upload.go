package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"ChatX/logger"
	"ChatX/tools/errs"

	"github.com/cenkalti/backoff/v4"
)

// Client 头像等附件上传。失败是可降级的：调用方记日志后
// 继续主流程，不因附件失败整单报错。
type Client struct {
	Endpoint string
	MaxBytes int64
	HTTP     *http.Client
}

func NewClient(endpoint string, maxBytes int64) *Client {
	return &Client{
		Endpoint: endpoint,
		MaxBytes: maxBytes,
		HTTP:     &http.Client{Timeout: 15 * time.Second},
	}
}

type uploadResp struct {
	URL string `json:"url"`
}

// Upload 上传并返回可访问 URL。瞬时失败按指数退避重试。
func (c *Client) Upload(ctx context.Context, filename string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", errs.ErrInvalidArgument.WrapMsg("empty file", "name", filename)
	}
	if c.MaxBytes > 0 && int64(len(data)) > c.MaxBytes {
		return "", errs.ErrInvalidArgument.WrapMsg("file too large", "name", filename, "size", len(data))
	}

	var url string
	op := func() error {
		u, err := c.post(ctx, filename, data)
		if err != nil {
			logger.Warnf("[upload] %s failed, will retry: %v", filename, err)
			return err
		}
		url = u
		return nil
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		return "", errs.ErrUnavailable.WrapMsg("upload failed", "name", filename)
	}
	return url, nil
}

func (c *Client) post(ctx context.Context, filename string, data []byte) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", errs.WrapMsg(err, "build multipart form")
	}
	if _, err := fw.Write(data); err != nil {
		return "", errs.WrapMsg(err, "write multipart body")
	}
	if err := mw.Close(); err != nil {
		return "", errs.WrapMsg(err, "close multipart writer")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, &buf)
	if err != nil {
		return "", errs.WrapMsg(err, "build upload request")
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return "", errs.WrapMsg(err, "post upload")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", errs.WrapMsg(err, "read upload response")
	}
	if resp.StatusCode != http.StatusOK {
		return "", errs.New("upload status %d: %s", resp.StatusCode, string(body))
	}

	var out uploadResp
	if err := json.Unmarshal(body, &out); err != nil {
		return "", errs.WrapMsg(err, "decode upload response")
	}
	if out.URL == "" {
		return "", errs.New("upload response missing url")
	}
	return out.URL, nil
}
