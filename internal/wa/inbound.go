package wa

import (
	waProto "go.mau.fi/whatsmeow/binary/proto"
	"go.mau.fi/whatsmeow/types/events"

	"warmer/internal/model"
)

// toInbound converts a whatsmeow message event into the canonical inbound
// record. Messages without text are skipped.
func toInbound(instanceID string, evt *events.Message) (model.InboundMessage, bool) {
	if evt == nil || evt.Message == nil {
		return model.InboundMessage{}, false
	}
	text := extractText(evt.Message)
	if text == "" {
		return model.InboundMessage{}, false
	}
	from := evt.Info.Sender.ToNonAD().User
	if evt.Info.IsGroup {
		from = evt.Info.Chat.User
	}
	return model.InboundMessage{
		From:        from,
		Message:     text,
		Type:        messageType(evt.Message),
		DeviceToken: instanceID,
		MessageID:   string(evt.Info.ID),
		IsFromMe:    evt.Info.IsFromMe,
		IsGroup:     evt.Info.IsGroup,
	}, true
}

func extractText(msg *waProto.Message) string {
	switch {
	case msg.GetConversation() != "":
		return msg.GetConversation()
	case msg.GetExtendedTextMessage().GetText() != "":
		return msg.GetExtendedTextMessage().GetText()
	case msg.GetImageMessage().GetCaption() != "":
		return msg.GetImageMessage().GetCaption()
	case msg.GetVideoMessage().GetCaption() != "":
		return msg.GetVideoMessage().GetCaption()
	case msg.GetDocumentMessage().GetCaption() != "":
		return msg.GetDocumentMessage().GetCaption()
	}
	return ""
}

func messageType(msg *waProto.Message) string {
	switch {
	case msg.GetImageMessage() != nil:
		return model.TypeImage
	case msg.GetVideoMessage() != nil:
		return model.TypeVideo
	case msg.GetAudioMessage() != nil:
		return model.TypeAudio
	case msg.GetStickerMessage() != nil:
		return model.TypeSticker
	case msg.GetLocationMessage() != nil:
		return model.TypeLocation
	case msg.GetContactMessage() != nil:
		return model.TypeContact
	}
	return model.TypeText
}
