package bilibili

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

// QR poll status codes returned by the passport service
const (
	QRStatusSuccess    = 0
	QRStatusExpired    = 86038
	QRStatusScanned    = 86090
	QRStatusNotScanned = 86101
)

// QRLogin drives the scan-to-login flow for adding a new account
type QRLogin struct {
	http      *resty.Client
	qrcodeKey string
}

// NewQRLogin creates an unauthenticated login handler
func NewQRLogin() *QRLogin {
	return &QRLogin{
		http: resty.New().
			SetTimeout(defTimeout).
			SetHeader("User-Agent", userAgent),
	}
}

// Generate requests a fresh QR code and returns the URL to render
func (l *QRLogin) Generate(ctx context.Context) (qrURL string, err error) {
	var data qrGenerateData
	if err := l.getJSON(ctx, "qrcode_generate", urlQRGenerate, nil, &data); err != nil {
		return "", err
	}
	if data.QRCodeKey == "" {
		return "", &TransientError{Op: "qrcode_generate", Err: fmt.Errorf("empty qrcode key")}
	}
	l.qrcodeKey = data.QRCodeKey
	return data.URL, nil
}

// Poll checks the scan status once. On QRStatusSuccess the returned cookie
// map carries the authenticated session (DedeUserID, bili_jct, SESSDATA).
func (l *QRLogin) Poll(ctx context.Context) (status int, cookies map[string]string, err error) {
	if l.qrcodeKey == "" {
		return 0, nil, fmt.Errorf("bilibili: no QR code generated")
	}

	resp, err := l.http.R().SetContext(ctx).
		SetQueryParam("qrcode_key", l.qrcodeKey).
		Get(urlQRPoll)
	if err != nil {
		if ctx.Err() != nil {
			return 0, nil, ctx.Err()
		}
		return 0, nil, &TransientError{Op: "qrcode_poll", Err: err}
	}

	var env envelope
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		return 0, nil, &TransientError{Op: "qrcode_poll", Err: fmt.Errorf("decode response: %w", err)}
	}
	if env.Code != 0 {
		return 0, nil, &TransientError{Op: "qrcode_poll", Err: fmt.Errorf("api code %d: %s", env.Code, env.Message)}
	}

	var data qrPollData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return 0, nil, &TransientError{Op: "qrcode_poll", Err: fmt.Errorf("decode data: %w", err)}
	}

	if data.Code != QRStatusSuccess {
		return data.Code, nil, nil
	}

	cookies = make(map[string]string)
	for _, c := range resp.Cookies() {
		cookies[c.Name] = c.Value
	}
	return QRStatusSuccess, cookies, nil
}

// WaitForScan polls until login succeeds, the code expires, or ctx ends.
// onStatus, when non-nil, observes every intermediate status.
func (l *QRLogin) WaitForScan(ctx context.Context, interval time.Duration, onStatus func(int)) (map[string]string, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			status, cookies, err := l.Poll(ctx)
			if err != nil {
				if IsTransient(err) {
					continue
				}
				return nil, err
			}
			if onStatus != nil {
				onStatus(status)
			}
			switch status {
			case QRStatusSuccess:
				return cookies, nil
			case QRStatusExpired:
				return nil, fmt.Errorf("bilibili: QR code expired")
			}
		}
	}
}

func (l *QRLogin) getJSON(ctx context.Context, op, url string, params map[string]string, out interface{}) error {
	req := l.http.R().SetContext(ctx)
	if params != nil {
		req.SetQueryParams(params)
	}
	resp, err := req.Get(url)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &TransientError{Op: op, Err: err}
	}
	if resp.StatusCode() >= http.StatusInternalServerError {
		return &TransientError{Op: op, Err: fmt.Errorf("http %d", resp.StatusCode())}
	}

	var env envelope
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		return &TransientError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	if env.Code != 0 {
		return &TransientError{Op: op, Err: fmt.Errorf("api code %d: %s", env.Code, env.Message)}
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return &TransientError{Op: op, Err: fmt.Errorf("decode data: %w", err)}
		}
	}
	return nil
}
