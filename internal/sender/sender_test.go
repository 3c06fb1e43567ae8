package sender

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"warmer/internal/model"
)

type call struct{ device, provider, to, text string }

type fakeGateway struct {
	calls []call
	err   error
}

func (f *fakeGateway) SendText(_ context.Context, deviceToken, provider, number, text string) error {
	f.calls = append(f.calls, call{deviceToken, provider, number, text})
	return f.err
}

type fakeLocal struct{ calls []call }

func (f *fakeLocal) SendText(_ context.Context, instanceID, to, text string) error {
	f.calls = append(f.calls, call{instanceID, model.ProviderWhatsmeow, to, text})
	return nil
}

func TestSendText_DispatchesByProvider(t *testing.T) {
	gw, local := &fakeGateway{}, &fakeLocal{}
	s := New(gw, local, 600, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, s.SendText(ctx, "dev-1", model.ProviderWPP, "5511", "a"))
	require.NoError(t, s.SendText(ctx, "dev-2", model.ProviderBaileys, "5512", "b"))
	require.NoError(t, s.SendText(ctx, "inst-3", model.ProviderWhatsmeow, "5513", "c"))

	assert.Equal(t, []call{{"dev-1", model.ProviderWPP, "5511", "a"}, {"dev-2", model.ProviderBaileys, "5512", "b"}}, gw.calls)
	assert.Equal(t, []call{{"inst-3", model.ProviderWhatsmeow, "5513", "c"}}, local.calls)
}

func TestSendText_Errors(t *testing.T) {
	gw := &fakeGateway{err: errors.New("boom")}
	s := New(gw, nil, 600, zap.NewNop())
	ctx := context.Background()

	assert.EqualError(t, s.SendText(ctx, "dev", model.ProviderWPP, "1", "x"), "boom")
	assert.Error(t, s.SendText(ctx, "dev", model.ProviderWhatsmeow, "1", "x"))
	assert.Error(t, s.SendText(ctx, "dev", "telegram", "1", "x"))
	assert.Error(t, s.SendText(ctx, "", model.ProviderWPP, "1", "x"))
	assert.Len(t, gw.calls, 1)
}

func TestSendText_CanceledContextStopsAtLimiter(t *testing.T) {
	gw := &fakeGateway{}
	s := New(gw, nil, 1, zap.NewNop())
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, s.SendText(ctx, "dev", model.ProviderWPP, "1", "x"))
	}
	canceled, cancel := context.WithCancel(ctx)
	cancel()
	assert.Error(t, s.SendText(canceled, "dev", model.ProviderWPP, "1", "x"))
	assert.Len(t, gw.calls, 3)
}

func TestRenderTurn(t *testing.T) {
	assert.Equal(t, "oi", RenderTurn(model.Turn{Kind: model.TypeText, Content: "oi"}))
	assert.Equal(t, "🎤 [Áudio: rindo]", RenderTurn(model.Turn{Kind: model.TypeAudio, Content: "rindo"}))
	assert.Equal(t, "📷 [Imagem: praia]", RenderTurn(model.Turn{Kind: model.TypeImage, Content: "praia"}))
	assert.Equal(t, "😄 [Figurinha: gato]", RenderTurn(model.Turn{Kind: model.TypeSticker, Content: "gato"}))
	assert.Equal(t, model.TypeText, MessageType("video"))
	assert.Equal(t, model.TypeSticker, MessageType(model.TypeSticker))
}
