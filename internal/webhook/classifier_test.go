package webhook

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"warmer/internal/model"
)

func TestClassifyShapes(t *testing.T) {
	cases := []struct {
		name string
		body string
		want model.InboundMessage
	}{
		{
			name: "session event",
			body: `{"event":"onmessage","device_token":"dev-1","response":{"from":"5511999990000@c.us","body":"oi tudo bem?","type":"chat","fromMe":false,"id":"false_5511999990000@c.us_ABC"}}`,
			want: model.InboundMessage{From: "5511999990000", Message: "oi tudo bem?", Type: model.TypeText, DeviceToken: "dev-1", MessageID: "false_5511999990000@c.us_ABC"},
		},
		{
			name: "session event with caption and serialized id",
			body: `{"event":"onmessage","response":{"chatId":"5511888887777@c.us","caption":"olha isso","type":"image","device_token":"dev-2","id":{"_serialized":"X1"}}}`,
			want: model.InboundMessage{From: "5511888887777", Message: "olha isso", Type: model.TypeImage, DeviceToken: "dev-2", MessageID: "X1"},
		},
		{
			name: "baileys upsert",
			body: `{"event":"messages.upsert","deviceToken":"dev-3","data":{"key":{"remoteJid":"5521977776666@s.whatsapp.net","fromMe":false,"id":"3EB0"},"message":{"extendedTextMessage":{"text":"bom dia"}}}}`,
			want: model.InboundMessage{From: "5521977776666", Message: "bom dia", Type: model.TypeText, DeviceToken: "dev-3", MessageID: "3EB0"},
		},
		{
			name: "baileys upsert image caption",
			body: `{"event":"messages.upsert","data":{"key":{"remoteJid":"5521977776666@s.whatsapp.net"},"message":{"imageMessage":{"caption":"foto"}}}}`,
			want: model.InboundMessage{From: "5521977776666", Message: "foto", Type: model.TypeImage},
		},
		{
			name: "generic nested key",
			body: `{"type":"whatever","data":{"key":{"remoteJid":"5531966665555@s.whatsapp.net","id":"K9"},"message":{"conversation":"opa"}}}`,
			want: model.InboundMessage{From: "5531966665555", Message: "opa", Type: model.TypeText, MessageID: "K9"},
		},
		{
			name: "cloud api",
			body: `{"metadata":{"phone_number_id":"10987"},"messages":[{"from":"5541955554444","id":"wamid.1","type":"text","text":{"body":"hello"}}]}`,
			want: model.InboundMessage{From: "5541955554444", Message: "hello", Type: model.TypeText, DeviceToken: "10987", MessageID: "wamid.1"},
		},
		{
			name: "flat fields",
			body: `{"phone":"+55 (51) 94444-3333","text":"e ai","deviceToken":"dev-4","messageId":"m-7"}`,
			want: model.InboundMessage{From: "5551944443333", Message: "e ai", Type: model.TypeText, DeviceToken: "dev-4", MessageID: "m-7"},
		},
		{
			name: "flat numeric phone",
			body: `{"number":5561933332222,"message":"teste"}`,
			want: model.InboundMessage{From: "5561933332222", Message: "teste", Type: model.TypeText},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Classify([]byte(tc.body), nil)
			require.NotNil(t, got)
			assert.Equal(t, tc.want, *got)
		})
	}
}

func TestClassifySelfAuthoredIsNil(t *testing.T) {
	bodies := []string{
		`{"event":"onmessage","response":{"from":"5511999990000@c.us","body":"x","fromMe":true}}`,
		`{"event":"messages.upsert","data":{"key":{"remoteJid":"5511999990000@s.whatsapp.net","fromMe":true},"message":{"conversation":"x"}}}`,
		`{"data":{"key":{"remoteJid":"5511999990000@s.whatsapp.net","fromMe":true},"message":{"conversation":"x"}}}`,
		`{"from":"5511999990000","message":"x","fromMe":true}`,
		`{"from":"5511999990000","message":"x","isFromMe":true}`,
	}
	for _, b := range bodies {
		assert.Nil(t, Classify([]byte(b), nil), b)
	}
}

func TestClassifyMisses(t *testing.T) {
	bodies := []string{
		``,
		`not json`,
		`[1,2,3]`,
		`{}`,
		`{"event":"status-find","response":"isLogged"}`,
		`{"event":"onmessage","response":{"from":"5511999990000@c.us"}}`,
		`{"messages":[]}`,
		`{"from":"","message":"oi"}`,
		`{"from":"5511999990000","message":{"nested":true}}`,
	}
	for _, b := range bodies {
		assert.Nil(t, Classify([]byte(b), nil), b)
	}
}

func TestClassifyMatchedShapeDoesNotFallThrough(t *testing.T) {
	// The envelope matches the session shape, so flat fields are ignored.
	body := `{"event":"onack","response":{"ack":2},"from":"5511999990000","message":"oi"}`
	assert.Nil(t, Classify([]byte(body), nil))
}

func TestClassifyGroupFlag(t *testing.T) {
	got := Classify([]byte(`{"event":"onmessage","response":{"from":"120363025@g.us","body":"galera"}}`), nil)
	require.NotNil(t, got)
	assert.True(t, got.IsGroup)
	assert.Equal(t, "120363025", got.From)

	got = Classify([]byte(`{"event":"onmessage","response":{"from":"5511999990000@c.us","body":"oi","isGroupMsg":true}}`), nil)
	require.NotNil(t, got)
	assert.True(t, got.IsGroup)

	got = Classify([]byte(`{"event":"messages.upsert","data":{"key":{"remoteJid":"999@g.us"},"message":{"conversation":"x"}}}`), nil)
	require.NotNil(t, got)
	assert.True(t, got.IsGroup)
}

func TestClassifyHeaderTokenWins(t *testing.T) {
	h := http.Header{}
	h.Set("X-Device-Token", "from-header")
	got := Classify([]byte(`{"from":"5511999990000","message":"oi","deviceToken":"from-body"}`), h)
	require.NotNil(t, got)
	assert.Equal(t, "from-header", got.DeviceToken)

	h = http.Header{}
	h.Set("DeviceToken", "plain")
	h.Set("Device-Token", "dashed")
	got = Classify([]byte(`{"from":"5511999990000","message":"oi"}`), h)
	require.NotNil(t, got)
	assert.Equal(t, "plain", got.DeviceToken)
}
