package sender

import (
	"fmt"

	"warmer/internal/model"
)

// RenderTurn turns a generated turn into the text actually sent. Media kinds
// become bracketed placeholders.
func RenderTurn(t model.Turn) string {
	switch t.Kind {
	case model.TypeAudio:
		return fmt.Sprintf("🎤 [Áudio: %s]", t.Content)
	case model.TypeImage:
		return fmt.Sprintf("📷 [Imagem: %s]", t.Content)
	case model.TypeSticker:
		return fmt.Sprintf("😄 [Figurinha: %s]", t.Content)
	default:
		return t.Content
	}
}

// MessageType maps a turn kind to the persisted message type.
func MessageType(kind string) string {
	switch kind {
	case model.TypeAudio, model.TypeImage, model.TypeSticker:
		return kind
	default:
		return model.TypeText
	}
}
