package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"strings"

	"go.uber.org/zap"

	"warmer/internal/model"
)

const conversationSystemPrompt = `Você é um simulador de conversas reais de WhatsApp entre amigos/conhecidos brasileiros.

REGRAS IMPORTANTES:
- Gere mensagens curtas e naturais (como gente real fala no WhatsApp)
- Use gírias brasileiras, abreviações (vc, tb, blz, kk, rs, tmj, flw, vlw)
- Varie o tom: às vezes animado, às vezes neutro, às vezes com pressa
- Use emojis com moderação (como pessoa real) - não abuse
- Alterne entre: perguntas, respostas, piadas, reclamações do dia-a-dia, novidades
- NUNCA repita a mesma estrutura de conversa
- Mensagens devem ter entre 3 a 40 palavras (maioria entre 5-15 palavras)

DISTRIBUIÇÃO DE TIPOS DE MENSAGEM:
- 70% texto simples
- 15% áudio (descreva brevemente o que seria falado)
- 10% imagem (descreva o que seria a imagem/foto)
- 5% sticker/figurinha (descreva qual seria)

IMPORTANTE: Cada conversa deve ter entre 5 a 10 mensagens trocadas (bate-bola real).

FORMATO DE SAÍDA: JSON puro, sem markdown, sem comentários.`

var topics = []string{
	"churrasco no fim de semana",
	"jogo do Flamengo/Corinthians ontem",
	"série nova na Netflix",
	"problemas no trabalho",
	"academia e dieta",
	"viagem nas férias",
	"fofoca da vizinha",
	"almoço de família",
	"promoção no mercado",
	"tempo/clima hoje",
	"aniversário do amigo",
	"carro na oficina",
	"conta de luz cara",
	"planos pro feriado",
	"receita de bolo",
	"problema com internet",
	"show/evento legal",
	"novo celular",
	"vaga de emprego",
	"casamento do primo",
}

const (
	fallbackTopic = "Conversa casual"
	fallbackReply = "Entendi! Vlw"
	minTurns      = 5
	maxTurns      = 10
)

func fallbackConversation(topic string) model.GeneratedConversation {
	if topic == "" {
		topic = fallbackTopic
	}
	return model.GeneratedConversation{
		Topic: topic,
		Turns: []model.Turn{
			{Author: model.AuthorMe, Kind: model.TypeText, Content: "E aí, tudo bem?"},
			{Author: model.AuthorContact, Kind: model.TypeText, Content: "Tudo certo! E com vc?"},
			{Author: model.AuthorMe, Kind: model.TypeText, Content: "Tranquilo, só trabalhando"},
			{Author: model.AuthorContact, Kind: model.TypeText, Content: "Eu também kk"},
			{Author: model.AuthorMe, Kind: model.TypeText, Content: "Bora tomar uma depois?"},
			{Author: model.AuthorContact, Kind: model.TypeText, Content: "Bora sim! Que horas?"},
		},
	}
}

// Generator produces synthetic conversations and contextual replies. It never
// fails: any completion or decoding error yields the built-in fallback.
type Generator struct {
	completer Completer
	logger    *zap.Logger
	intn      func(n int) int
}

// NewGenerator returns a Generator. completer may be nil, in which case only
// fallbacks are produced.
func NewGenerator(completer Completer, logger *zap.Logger) *Generator {
	return &Generator{completer: completer, logger: logger.Named("ai"), intn: rand.Intn}
}

// RandomTopic picks one of the built-in topics.
func (g *Generator) RandomTopic() string {
	return topics[g.intn(len(topics))]
}

type wireTurn struct {
	Sender  string `json:"remetente"`
	Kind    string `json:"tipo"`
	Content string `json:"conteudo"`
}

type wireConversation struct {
	Topic    string     `json:"topic"`
	Messages []wireTurn `json:"messages"`
}

// GenerateConversation produces a 5-10 turn conversation about topic, or a
// random topic when topic is empty.
func (g *Generator) GenerateConversation(ctx context.Context, topic string) model.GeneratedConversation {
	if g.completer == nil {
		return fallbackConversation(topic)
	}
	use := topic
	if use == "" {
		use = g.RandomTopic()
	}
	prompt := fmt.Sprintf(`Gere uma conversa de 8 mensagens sobre: "%s".
Estilo: casual.
Retorne apenas JSON no formato:
{
  "topic": "titulo do assunto",
  "messages": [
    {"remetente": "eu", "tipo": "texto", "conteudo": "mensagem aqui"},
    {"remetente": "contato", "tipo": "texto", "conteudo": "resposta aqui"}
  ]
}`, use)

	out, err := g.completer.Complete(ctx, CompletionRequest{
		SystemPrompt: conversationSystemPrompt,
		UserText:     prompt,
		Temperature:  1.2,
		MaxTokens:    1000,
		JSON:         true,
	})
	if err != nil {
		g.logger.Warn("generate conversation failed, using fallback", zap.Error(err))
		return fallbackConversation(topic)
	}
	conv, err := decodeConversation(out)
	if err != nil {
		g.logger.Warn("decode conversation failed, using fallback", zap.Error(err))
		return fallbackConversation(topic)
	}
	if conv.Topic == "" {
		conv.Topic = use
	}
	return conv
}

func decodeConversation(raw string) (model.GeneratedConversation, error) {
	var w wireConversation
	if err := json.Unmarshal([]byte(stripFences(raw)), &w); err != nil {
		return model.GeneratedConversation{}, err
	}
	conv := model.GeneratedConversation{Topic: strings.TrimSpace(w.Topic)}
	for _, m := range w.Messages {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		conv.Turns = append(conv.Turns, model.Turn{Author: author(m.Sender), Kind: kind(m.Kind), Content: m.Content})
		if len(conv.Turns) == maxTurns {
			break
		}
	}
	if len(conv.Turns) < minTurns {
		return conv, fmt.Errorf("conversation has %d turns, want at least %d", len(conv.Turns), minTurns)
	}
	return conv, nil
}

// GenerateReply produces one reply given recent context lines and the last
// inbound text.
func (g *Generator) GenerateReply(ctx context.Context, recent []string, last string) model.Turn {
	fallback := model.Turn{Author: model.AuthorMe, Kind: model.TypeText, Content: fallbackReply}
	if g.completer == nil {
		return fallback
	}
	if len(recent) > 5 {
		recent = recent[len(recent)-5:]
	}
	prompt := fmt.Sprintf(`Contexto das últimas mensagens:
%s

Última mensagem recebida: "%s"

Gere UMA resposta natural e contextual para esta mensagem.
Retorne apenas JSON:
{
  "remetente": "eu",
  "tipo": "texto",
  "conteudo": "sua resposta aqui"
}`, strings.Join(recent, "\n"), last)

	out, err := g.completer.Complete(ctx, CompletionRequest{
		SystemPrompt: conversationSystemPrompt,
		UserText:     prompt,
		Temperature:  1.1,
		MaxTokens:    150,
		JSON:         true,
	})
	if err != nil {
		g.logger.Warn("generate reply failed, using fallback", zap.Error(err))
		return fallback
	}
	var w wireTurn
	if err := json.Unmarshal([]byte(stripFences(out)), &w); err != nil || strings.TrimSpace(w.Content) == "" {
		g.logger.Warn("decode reply failed, using fallback", zap.Error(err))
		return fallback
	}
	return model.Turn{Author: model.AuthorMe, Kind: kind(w.Kind), Content: w.Content}
}

func stripFences(s string) string {
	s = strings.ReplaceAll(s, "```json", "")
	s = strings.ReplaceAll(s, "```", "")
	return strings.TrimSpace(s)
}

func author(s string) string {
	if strings.EqualFold(strings.TrimSpace(s), "contato") || s == model.AuthorContact {
		return model.AuthorContact
	}
	return model.AuthorMe
}

func kind(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "audio", "áudio":
		return model.TypeAudio
	case "imagem", "image":
		return model.TypeImage
	case "sticker", "figurinha":
		return model.TypeSticker
	default:
		return model.TypeText
	}
}
