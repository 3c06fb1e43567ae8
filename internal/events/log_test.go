package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakePublisher struct {
	mu       sync.Mutex
	subjects []string
	payloads [][]byte
	err      error
}

func (f *fakePublisher) Publish(subject string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subjects = append(f.subjects, subject)
	f.payloads = append(f.payloads, data)
	return f.err
}

func TestRecordMessage(t *testing.T) {
	l := NewLog(nil, "", zap.NewNop())
	e, ok := l.Record(TypeMessage, []byte(`{"event":"onmessage","response":{"from":"5511999990000@c.us","body":"  olá, tudo bem?  "}}`), "10.0.0.1", true)
	require.True(t, ok)
	assert.Equal(t, int64(1), e.ID)
	assert.Equal(t, "5511999990000", e.From)
	assert.Equal(t, "olá, tudo bem?", e.Preview)
	assert.Equal(t, "10.0.0.1", e.IP)
	assert.True(t, e.Success)
}

func TestRecordSkipsEmptyMessages(t *testing.T) {
	l := NewLog(nil, "", zap.NewNop())
	for _, body := range []string{
		`{"response":{"body":"   "}}`,
		`{"response":{"body":"—"}}`,
		`{"message":"-"}`,
		`{"text":"k"}`,
		`{}`,
		`not json`,
	} {
		_, ok := l.Record(TypeMessage, []byte(body), "", true)
		assert.False(t, ok, body)
	}
	assert.Empty(t, l.Entries(0))
}

func TestPreviewShapes(t *testing.T) {
	cases := []struct {
		typ, body, preview, from string
	}{
		{TypeMessage, `{"data":{"key":{"remoteJid":"5521977776666@s.whatsapp.net"},"message":{"extendedTextMessage":{"text":"bom dia"}}}}`, "bom dia", "5521977776666"},
		{TypeMessage, `{"messages":[{"from":"5541955554444","text":{"body":"hello"}}]}`, "hello", "5541955554444"},
		{TypeMessage, `{"sender":"5551","body":"flat body"}`, "flat body", "5551"},
		{TypeStatus, `{"response":{"state":"CONNECTED"}}`, "CONNECTED", ""},
		{TypeConnect, `{"connected":true}`, "Conectado", ""},
		{TypeConnect, `{"disconnected":true}`, "Desconectado", ""},
		{TypeQRCode, `{"response":{"qrcode":"data:image/png;base64,AAA"}}`, "QR Code recebido", ""},
		{TypeQRCode, `{}`, "Evento QR Code", ""},
	}
	l := NewLog(nil, "", zap.NewNop())
	for _, tc := range cases {
		e, ok := l.Record(tc.typ, []byte(tc.body), "", true)
		require.True(t, ok, tc.body)
		assert.Equal(t, tc.preview, e.Preview, tc.body)
		assert.Equal(t, tc.from, e.From, tc.body)
	}
}

func TestPreviewTruncation(t *testing.T) {
	l := NewLog(nil, "", zap.NewNop())
	long := strings.Repeat("á", 100)
	e, ok := l.Record(TypeMessage, []byte(`{"message":"`+long+`"}`), "", true)
	require.True(t, ok)
	assert.Equal(t, strings.Repeat("á", 80), e.Preview)

	raw := `{"something":"` + strings.Repeat("x", 100) + `"}`
	e, ok = l.Record(TypeStatus, []byte(raw), "", true)
	require.True(t, ok)
	assert.Equal(t, raw[:60], e.Preview)
}

func TestRingBufferKeepsNewest(t *testing.T) {
	l := NewLog(nil, "", zap.NewNop())
	for i := 1; i <= 130; i++ {
		_, ok := l.Record(TypeMessage, []byte(fmt.Sprintf(`{"message":"msg %d"}`, i)), "", true)
		require.True(t, ok)
	}
	all := l.Entries(0)
	require.Len(t, all, 100)
	assert.Equal(t, int64(130), all[0].ID)
	assert.Equal(t, int64(31), all[99].ID)

	top := l.Entries(5)
	require.Len(t, top, 5)
	assert.Equal(t, "msg 130", top[0].Preview)

	l.Clear()
	assert.Empty(t, l.Entries(0))
	e, _ := l.Record(TypeConnect, []byte(`{}`), "", true)
	assert.Equal(t, int64(1), e.ID)
}

func TestStats(t *testing.T) {
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l := NewLog(nil, "", zap.NewNop())
	l.now = func() time.Time { return clock }

	l.Record(TypeMessage, []byte(`{"message":"antiga"}`), "", true)
	clock = clock.Add(10 * time.Minute)
	l.Record(TypeMessage, []byte(`{"message":"nova"}`), "", true)
	l.Record(TypeStatus, []byte(`{"status":"ok"}`), "", true)

	st := l.Stats()
	assert.Equal(t, 3, st.Total)
	assert.Equal(t, 2, st.Last5Min)
	assert.Equal(t, map[string]int{TypeMessage: 2, TypeStatus: 1}, st.ByType)
}

func TestSubscribe(t *testing.T) {
	l := NewLog(nil, "", zap.NewNop())
	ch, cancel := l.Subscribe()

	l.Record(TypeConnect, []byte(`{"connected":true}`), "", true)
	select {
	case e := <-ch:
		assert.Equal(t, "Conectado", e.Preview)
	case <-time.After(time.Second):
		t.Fatal("no entry delivered")
	}

	cancel()
	cancel()
	_, open := <-ch
	assert.False(t, open)
	l.Record(TypeConnect, []byte(`{"connected":true}`), "", true)
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	l := NewLog(nil, "", zap.NewNop())
	_, cancel := l.Subscribe()
	defer cancel()
	for i := 0; i < subscriberBuf*3; i++ {
		l.Record(TypeStatus, []byte(`{"status":"ok"}`), "", true)
	}
	assert.Equal(t, subscriberBuf*3, l.Stats().Total)
}

func TestPublishesToNATS(t *testing.T) {
	pub := &fakePublisher{}
	l := NewLog(pub, "warmer.webhooks", zap.NewNop())
	l.Record(TypeMessage, []byte(`{"from":"5511","message":"oi gente"}`), "1.2.3.4", false)

	require.Len(t, pub.payloads, 1)
	assert.Equal(t, "warmer.webhooks", pub.subjects[0])
	var e Entry
	require.NoError(t, json.Unmarshal(pub.payloads[0], &e))
	assert.Equal(t, "oi gente", e.Preview)
	assert.False(t, e.Success)

	pub.err = errors.New("nats down")
	_, ok := l.Record(TypeStatus, []byte(`{"status":"x"}`), "", true)
	assert.True(t, ok, "publish failures do not affect recording")
}
