package notify

import (
	"encoding/json"
	"time"

	"battleground/internal/battle"
	"battleground/internal/constants"

	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"
)

// LogNotifier writes every battle announcement to the structured log. It
// is the default sink when no downstream transport is configured.
type LogNotifier struct {
	logger zerolog.Logger
}

func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Broadcast(scope battle.Scope, text string, _ battle.StyleHint) {
	n.logger.Info().Int("scope", int(scope)).Str("text", text).Msg("broadcast")
}

func (n *LogNotifier) PlaySound(scope battle.Scope, id int) {
	n.logger.Debug().Int("scope", int(scope)).Int("sound", id).Msg("sound")
}

func (n *LogNotifier) Notify(p battle.PlayerID, text string) {
	n.logger.Info().Str("player", string(p)).Str("text", text).Msg("notify")
}

// event is the JSON body posted to the webhook endpoint.
type event struct {
	Kind   string `json:"kind"`
	Scope  string `json:"scope,omitempty"`
	Player string `json:"player,omitempty"`
	Text   string `json:"text,omitempty"`
	Sound  int    `json:"sound,omitempty"`
	At     string `json:"at"`
}

// WebhookNotifier posts battle events to an external HTTP endpoint.
// Delivery is fire-and-forget: battle ticks must never block on the
// network, so each event is shipped on its own goroutine with a deadline
// and failures are only logged.
type WebhookNotifier struct {
	url    string
	client *fasthttp.Client
	logger zerolog.Logger
}

func NewWebhookNotifier(url string, logger zerolog.Logger) *WebhookNotifier {
	return &WebhookNotifier{
		url: url,
		client: &fasthttp.Client{
			MaxConnsPerHost:     100,
			ReadTimeout:         constants.WebhookTimeout,
			WriteTimeout:        constants.WebhookTimeout,
			MaxIdleConnDuration: 1 * time.Minute,
		},
		logger: logger,
	}
}

func (n *WebhookNotifier) Broadcast(scope battle.Scope, text string, _ battle.StyleHint) {
	n.post(event{Kind: "broadcast", Scope: scopeName(scope), Text: text, At: time.Now().UTC().Format(time.RFC3339)})
}

func (n *WebhookNotifier) PlaySound(scope battle.Scope, id int) {
	n.post(event{Kind: "sound", Scope: scopeName(scope), Sound: id, At: time.Now().UTC().Format(time.RFC3339)})
}

func (n *WebhookNotifier) Notify(p battle.PlayerID, text string) {
	n.post(event{Kind: "notify", Player: string(p), Text: text, At: time.Now().UTC().Format(time.RFC3339)})
}

func (n *WebhookNotifier) post(ev event) {
	body, err := json.Marshal(ev)
	if err != nil {
		n.logger.Error().Err(err).Msg("failed to marshal webhook event")
		return
	}

	go func() {
		req := fasthttp.AcquireRequest()
		resp := fasthttp.AcquireResponse()
		defer fasthttp.ReleaseRequest(req)
		defer fasthttp.ReleaseResponse(resp)

		req.SetRequestURI(n.url)
		req.Header.SetMethod(fasthttp.MethodPost)
		req.Header.SetContentType("application/json")
		req.SetBody(body)

		deadline := time.Now().Add(constants.WebhookTimeout)
		if err := n.client.DoDeadline(req, resp, deadline); err != nil {
			n.logger.Warn().Err(err).Str("kind", ev.Kind).Msg("webhook delivery failed")
			return
		}
		if resp.StatusCode() >= 300 {
			n.logger.Warn().
				Int("status", resp.StatusCode()).
				Str("kind", ev.Kind).
				Msg("webhook rejected event")
		}
	}()
}

func scopeName(s battle.Scope) string {
	if s == battle.ScopeGlobal {
		return "global"
	}
	return "local"
}

// MultiNotifier fans each event out to every sink.
type MultiNotifier []battle.Notifier

func (m MultiNotifier) Broadcast(scope battle.Scope, text string, style battle.StyleHint) {
	for _, n := range m {
		n.Broadcast(scope, text, style)
	}
}

func (m MultiNotifier) PlaySound(scope battle.Scope, id int) {
	for _, n := range m {
		n.PlaySound(scope, id)
	}
}

func (m MultiNotifier) Notify(p battle.PlayerID, text string) {
	for _, n := range m {
		n.Notify(p, text)
	}
}
