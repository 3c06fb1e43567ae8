// Package gateway talks to the hosted WhatsApp gateway, which fronts both
// wppconnect ("whatsapp") and Evolution ("baileys") servers.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"warmer/internal/model"
)

type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *zap.Logger
}

func New(baseURL, bearerToken string, timeout time.Duration, logger *zap.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   bearerToken,
		http:    &http.Client{Timeout: timeout},
		logger:  logger.Named("gateway"),
	}
}

// StatusError is returned for non-2xx gateway responses.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gateway: status %d: %s", e.Code, e.Body)
}

type evolutionSendText struct {
	Number  string `json:"number"`
	Text    string `json:"text"`
	Options struct {
		Delay    int    `json:"delay"`
		Presence string `json:"presence"`
	} `json:"options"`
}

type wppSendText struct {
	Number     string `json:"number"`
	Text       string `json:"text"`
	TimeTyping int    `json:"time_typing"`
	Options    struct {
		CreateChat      bool `json:"createChat"`
		Delay           int  `json:"delay"`
		DetectMentioned bool `json:"detectMentioned"`
		MarkIsRead      bool `json:"markIsRead"`
		WaitForAck      bool `json:"waitForAck"`
	} `json:"options"`
}

// SendText delivers a text message through the device's server type.
func (c *Client) SendText(ctx context.Context, deviceToken, provider, number, text string) error {
	number = model.NormalizePhone(number)
	c.logger.Debug("sendText", zap.String("provider", provider), zap.String("number", number), zap.String("preview", short(text)))

	if provider == model.ProviderBaileys {
		var body evolutionSendText
		body.Number, body.Text = number, text
		body.Options.Delay = 1
		body.Options.Presence = "composing"
		return c.do(ctx, http.MethodPost, "/api/v2/evolution/message/sendText", deviceToken, body, nil)
	}
	var body wppSendText
	body.Number, body.Text = number, text
	body.Options.CreateChat = true
	return c.do(ctx, http.MethodPost, "/api/v2/whatsapp/sendText", deviceToken, body, nil)
}

type connectionState struct {
	State    string `json:"state"`
	Status   string `json:"status"`
	Response *struct {
		Instance *struct {
			State string `json:"state"`
		} `json:"instance"`
		Data *struct {
			State  string `json:"state"`
			Status string `json:"status"`
		} `json:"data"`
	} `json:"response"`
	Data *struct {
		State  string `json:"state"`
		Status string `json:"status"`
	} `json:"data"`
}

// IsConnected asks the gateway whether the device session is logged in.
func (c *Client) IsConnected(ctx context.Context, deviceToken, provider string) (bool, error) {
	var st connectionState
	if provider == model.ProviderBaileys {
		if err := c.do(ctx, http.MethodGet, "/api/v2/evolution/instance/connectionState", deviceToken, nil, &st); err != nil {
			return false, err
		}
		if st.Response == nil || st.Response.Instance == nil {
			return false, nil
		}
		s := st.Response.Instance.State
		return s == "open" || s == "connected", nil
	}
	if err := c.do(ctx, http.MethodPost, "/api/v2/whatsapp/getConnectionState", deviceToken, struct{}{}, &st); err != nil {
		return false, err
	}
	state := firstNonEmpty(st.State, st.Status)
	if st.Data != nil {
		state = firstNonEmpty(st.Data.State, st.Data.Status)
	}
	if st.Response != nil && st.Response.Data != nil {
		state = firstNonEmpty(st.Response.Data.State, st.Response.Data.Status)
	}
	return state == "CONNECTED" || state == "isLogged", nil
}

// StartSession starts a device session and returns the pairing QR payload.
func (c *Client) StartSession(ctx context.Context, deviceToken, provider, instanceName string) (string, error) {
	if provider == model.ProviderBaileys {
		var created struct {
			Response struct {
				QRCode json.RawMessage `json:"qrcode"`
			} `json:"response"`
		}
		req := map[string]any{"instanceName": instanceName, "qrcode": true, "integration": "WHATSAPP-BAILEYS"}
		if err := c.do(ctx, http.MethodPost, "/api/v2/evolution/instance/create", deviceToken, req, &created); err != nil {
			return "", err
		}
		if qr := qrFromRaw(created.Response.QRCode); qr != "" {
			return qr, nil
		}
		var conn json.RawMessage
		if err := c.do(ctx, http.MethodGet, "/api/v2/evolution/instance/connect", deviceToken, nil, &conn); err != nil {
			return "", err
		}
		return qrFromRaw(conn), nil
	}

	if err := c.do(ctx, http.MethodPost, "/api/v2/whatsapp/start", deviceToken, struct{}{}, nil); err != nil {
		return "", err
	}
	var qr struct {
		QRCode string `json:"qrcode"`
		Data   struct {
			QRCode string `json:"qrcode"`
		} `json:"data"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v2/whatsapp/qrcode", deviceToken, struct{}{}, &qr); err != nil {
		return "", err
	}
	return firstNonEmpty(qr.QRCode, qr.Data.QRCode), nil
}

// qrFromRaw accepts either a bare string or an object carrying base64/code.
func qrFromRaw(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Base64 string `json:"base64"`
		Code   string `json:"code"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return firstNonEmpty(obj.Base64, obj.Code)
	}
	return ""
}

func (c *Client) do(ctx context.Context, method, path, deviceToken string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if deviceToken != "" {
		req.Header.Set("DeviceToken", deviceToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("gateway %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
		return fmt.Errorf("gateway %s %s: decode: %w", method, path, err)
	}
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func short(s string) string {
	if len([]rune(s)) <= 40 {
		return s
	}
	return string([]rune(s)[:40]) + "..."
}
