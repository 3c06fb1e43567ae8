// Package webhook turns provider webhook payloads into canonical inbound
// messages.
package webhook

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"warmer/internal/model"
)

// Headers that may carry the device token, in lookup order.
var deviceTokenHeaders = []string{"devicetoken", "device-token", "x-device-token"}

// detector recognises one payload shape. matched reports whether the shape
// was recognised; once a shape matches, later detectors are not consulted.
type detector func(env *envelope) (msg model.InboundMessage, matched bool)

// detectors are tried in order, first match wins.
var detectors = []detector{
	detectSessionEvent,
	detectUpsert,
	detectNestedKey,
	detectCloudAPI,
	detectFlat,
}

// Classify returns the canonical message carried by body, or nil when the
// payload is not recognised, is self-authored, or lacks sender or text.
func Classify(body []byte, headers http.Header) *model.InboundMessage {
	env, ok := parse(body)
	if !ok {
		return nil
	}
	for _, d := range detectors {
		msg, matched := d(env)
		if !matched {
			continue
		}
		if msg.From == "" || msg.Message == "" || msg.IsFromMe {
			return nil
		}
		if tok := headerToken(headers); tok != "" {
			msg.DeviceToken = tok
		}
		if strings.Contains(msg.From, "@g.us") {
			msg.IsGroup = true
		}
		msg.From = model.NormalizePhone(msg.From)
		if msg.From == "" {
			return nil
		}
		if msg.Type == "" {
			msg.Type = model.TypeText
		}
		return &msg
	}
	return nil
}

func headerToken(h http.Header) string {
	for _, k := range deviceTokenHeaders {
		if v := strings.TrimSpace(h.Get(k)); v != "" {
			return v
		}
	}
	return ""
}

// text decodes a JSON string or number. Any other value decodes to "".
type text string

func (t *text) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*t = text(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err == nil {
		*t = text(n.String())
	}
	return nil
}

// flag is true only for the JSON literal true.
type flag bool

func (f *flag) UnmarshalJSON(b []byte) error {
	*f = flag(bytes.Equal(bytes.TrimSpace(b), []byte("true")))
	return nil
}

// msgID accepts "id" as a plain string or as {"_serialized": "..."}.
type msgID string

func (m *msgID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*m = msgID(s)
		return nil
	}
	var obj struct {
		Serialized string `json:"_serialized"`
		ID         string `json:"id"`
	}
	if err := json.Unmarshal(b, &obj); err == nil {
		*m = msgID(firstNonEmpty(obj.Serialized, obj.ID))
	}
	return nil
}

type envelope struct {
	Event            text            `json:"event"`
	Response         json.RawMessage `json:"response"`
	Data             json.RawMessage `json:"data"`
	Messages         json.RawMessage `json:"messages"`
	DeviceToken      text            `json:"device_token"`
	DeviceTokenCamel text            `json:"deviceToken"`
	Metadata         struct {
		PhoneNumberID text `json:"phone_number_id"`
	} `json:"metadata"`

	// flat shape
	From       text  `json:"from"`
	Sender     text  `json:"sender"`
	Number     text  `json:"number"`
	Phone      text  `json:"phone"`
	Message    text  `json:"message"`
	Body       text  `json:"body"`
	Text       text  `json:"text"`
	Content    text  `json:"content"`
	FromMe     flag  `json:"fromMe"`
	IsFromMe   flag  `json:"isFromMe"`
	IsGroupMsg flag  `json:"isGroupMsg"`
	ID         msgID `json:"id"`
	MessageID  text  `json:"messageId"`
}

func (e *envelope) bodyToken() string {
	return firstNonEmpty(string(e.DeviceToken), string(e.DeviceTokenCamel))
}

// parse decodes body leniently: fields of an unexpected JSON type are left
// empty instead of failing the whole payload.
func parse(body []byte) (*envelope, bool) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || body[0] != '{' {
		return nil, false
	}
	var env envelope
	if !decode(body, &env) {
		return nil, false
	}
	return &env, true
}

func decode(raw []byte, v any) bool {
	err := json.Unmarshal(raw, v)
	var typeErr *json.UnmarshalTypeError
	return err == nil || errors.As(err, &typeErr)
}

// present mirrors a truthy check: absent, null, false, 0 and "" are not present.
func present(raw json.RawMessage) bool {
	switch string(bytes.TrimSpace(raw)) {
	case "", "null", "false", "0", `""`:
		return false
	}
	return true
}

func isObject(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '{'
}

// wppconnect session event: {"event": "...", "response": {...}}.
type sessionResponse struct {
	From   text `json:"from"`
	ChatID text `json:"chatId"`
	Sender struct {
		ID text `json:"id"`
	} `json:"sender"`
	Body        text  `json:"body"`
	Caption     text  `json:"caption"`
	Content     text  `json:"content"`
	Type        text  `json:"type"`
	FromMe      flag  `json:"fromMe"`
	IsGroupMsg  flag  `json:"isGroupMsg"`
	DeviceToken text  `json:"device_token"`
	ID          msgID `json:"id"`
}

func detectSessionEvent(env *envelope) (model.InboundMessage, bool) {
	if env.Event == "" || !present(env.Response) {
		return model.InboundMessage{}, false
	}
	var r sessionResponse
	if isObject(env.Response) {
		decode(env.Response, &r)
	}
	return model.InboundMessage{
		From:        firstNonEmpty(string(r.From), string(r.ChatID), string(r.Sender.ID)),
		Message:     firstNonEmpty(string(r.Body), string(r.Caption), string(r.Content)),
		Type:        normalizeType(string(r.Type)),
		DeviceToken: firstNonEmpty(env.bodyToken(), string(r.DeviceToken)),
		MessageID:   string(r.ID),
		IsFromMe:    bool(r.FromMe),
		IsGroup:     bool(r.IsGroupMsg),
	}, true
}

type keyedData struct {
	Key struct {
		RemoteJID text `json:"remoteJid"`
		FromMe    flag `json:"fromMe"`
		ID        text `json:"id"`
	} `json:"key"`
	Message struct {
		Conversation        text `json:"conversation"`
		ExtendedTextMessage *struct {
			Text text `json:"text"`
		} `json:"extendedTextMessage"`
		ImageMessage    *captioned      `json:"imageMessage"`
		VideoMessage    *captioned      `json:"videoMessage"`
		DocumentMessage *captioned      `json:"documentMessage"`
		AudioMessage    json.RawMessage `json:"audioMessage"`
	} `json:"message"`
}

type captioned struct {
	Caption text `json:"caption"`
}

func (c *captioned) caption() string {
	if c == nil {
		return ""
	}
	return string(c.Caption)
}

func (d *keyedData) extendedText() string {
	if d.Message.ExtendedTextMessage == nil {
		return ""
	}
	return string(d.Message.ExtendedTextMessage.Text)
}

// Evolution (Baileys) upsert: {"event": "messages.upsert", "data": {"key": ..., "message": ...}}.
func detectUpsert(env *envelope) (model.InboundMessage, bool) {
	if env.Event != "messages.upsert" || !present(env.Data) {
		return model.InboundMessage{}, false
	}
	var d keyedData
	if isObject(env.Data) {
		decode(env.Data, &d)
	}
	m := d.Message
	typ := model.TypeText
	switch {
	case m.ImageMessage != nil:
		typ = model.TypeImage
	case present(m.AudioMessage):
		typ = model.TypeAudio
	case m.VideoMessage != nil:
		typ = model.TypeVideo
	}
	return model.InboundMessage{
		From: string(d.Key.RemoteJID),
		Message: firstNonEmpty(
			string(m.Conversation),
			d.extendedText(),
			m.ImageMessage.caption(),
			m.VideoMessage.caption(),
			m.DocumentMessage.caption(),
		),
		Type:        typ,
		DeviceToken: env.bodyToken(),
		MessageID:   string(d.Key.ID),
		IsFromMe:    bool(d.Key.FromMe),
	}, true
}

// Any envelope with data.key.remoteJid.
func detectNestedKey(env *envelope) (model.InboundMessage, bool) {
	if !isObject(env.Data) {
		return model.InboundMessage{}, false
	}
	var d keyedData
	decode(env.Data, &d)
	if d.Key.RemoteJID == "" {
		return model.InboundMessage{}, false
	}
	return model.InboundMessage{
		From:        string(d.Key.RemoteJID),
		Message:     firstNonEmpty(string(d.Message.Conversation), d.extendedText(), d.Message.ImageMessage.caption()),
		Type:        model.TypeText,
		DeviceToken: env.bodyToken(),
		MessageID:   string(d.Key.ID),
		IsFromMe:    bool(d.Key.FromMe),
	}, true
}

type cloudMessage struct {
	From text `json:"from"`
	ID   text `json:"id"`
	Type text `json:"type"`
	Text struct {
		Body text `json:"body"`
	} `json:"text"`
	Caption text `json:"caption"`
}

// Cloud API style: {"messages": [{...}], "metadata": {"phone_number_id": ...}}.
func detectCloudAPI(env *envelope) (model.InboundMessage, bool) {
	raw := bytes.TrimSpace(env.Messages)
	if len(raw) == 0 || raw[0] != '[' {
		return model.InboundMessage{}, false
	}
	var msgs []cloudMessage
	decode(raw, &msgs)
	if len(msgs) == 0 {
		return model.InboundMessage{}, false
	}
	m := msgs[0]
	return model.InboundMessage{
		From:        string(m.From),
		Message:     firstNonEmpty(string(m.Text.Body), string(m.Caption)),
		Type:        normalizeType(string(m.Type)),
		DeviceToken: string(env.Metadata.PhoneNumberID),
		MessageID:   string(m.ID),
	}, true
}

// Flat fields at the top level. Always matches.
func detectFlat(env *envelope) (model.InboundMessage, bool) {
	return model.InboundMessage{
		From:        firstNonEmpty(string(env.From), string(env.Sender), string(env.Number), string(env.Phone)),
		Message:     firstNonEmpty(string(env.Message), string(env.Body), string(env.Text), string(env.Content)),
		Type:        model.TypeText,
		DeviceToken: env.bodyToken(),
		MessageID:   firstNonEmpty(string(env.ID), string(env.MessageID)),
		IsFromMe:    bool(env.FromMe) || bool(env.IsFromMe),
		IsGroup:     bool(env.IsGroupMsg),
	}, true
}

// normalizeType maps provider message types onto model types.
func normalizeType(t string) string {
	switch strings.ToLower(t) {
	case "image", "imagem":
		return model.TypeImage
	case "audio", "ptt", "voice":
		return model.TypeAudio
	case "video":
		return model.TypeVideo
	case "sticker":
		return model.TypeSticker
	case "location":
		return model.TypeLocation
	case "vcard", "contact", "contacts":
		return model.TypeContact
	default:
		return model.TypeText
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
