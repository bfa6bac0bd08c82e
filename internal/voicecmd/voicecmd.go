// Package voicecmd classifies voice commands into intents: opening or
// closing dashboard panels, emergency stop and resume, or free-form chat.
package voicecmd

import (
	"log/slog"
	"regexp"
	"strings"
)

// Kind is the category of an [Intent].
type Kind string

const (
	KindOpenPanel     Kind = "open_panel"
	KindClosePanels   Kind = "close_panels"
	KindEmergencyStop Kind = "emergency_stop"
	KindResume        Kind = "resume"
	KindChat          Kind = "chat"
)

// Panel names a dashboard panel.
type Panel string

const (
	PanelSpy       Panel = "spy"
	PanelSmartHome Panel = "smart_home"
	PanelRemote    Panel = "remote"
	PanelAds       Panel = "ads"
	PanelApps      Panel = "apps"
)

// Intent is the routing decision for one command.
type Intent struct {
	Kind  Kind   `json:"kind"`
	Panel Panel  `json:"panel,omitempty"`
	Text  string `json:"text"`
}

// Rule maps a pattern to an intent. Rules are tried in order.
type Rule struct {
	Pattern *regexp.Regexp
	Kind    Kind
	Panel   Panel
}

// DefaultRules returns the built-in pt-BR/en rules. Panel rules come first,
// then closing, then the stop and resume commands, which only match at the
// start of the command so that "para" inside a sentence stays chat.
func DefaultRules() []Rule {
	return []Rule{
		{Pattern: regexp.MustCompile(`(?i)\b(spy|espionar|ofertas?)\b`), Kind: KindOpenPanel, Panel: PanelSpy},
		{Pattern: regexp.MustCompile(`(?i)\b(casa|home|luz|luzes)\b`), Kind: KindOpenPanel, Panel: PanelSmartHome},
		{Pattern: regexp.MustCompile(`(?i)\b(remote|remoto|computador)\b`), Kind: KindOpenPanel, Panel: PanelRemote},
		{Pattern: regexp.MustCompile(`(?i)\b(ads|campanhas?|an[uú]ncios?)\b`), Kind: KindOpenPanel, Panel: PanelAds},
		{Pattern: regexp.MustCompile(`(?i)\b(apps|aplicativos|ferramentas)\b`), Kind: KindOpenPanel, Panel: PanelApps},
		{Pattern: regexp.MustCompile(`(?i)\b(fechar|fecha|sair)\b`), Kind: KindClosePanels},
		{Pattern: regexp.MustCompile(`(?i)^(para|parar|pare|stop)\b`), Kind: KindEmergencyStop},
		{Pattern: regexp.MustCompile(`(?i)^(continuar|continua|retomar|resume)\b`), Kind: KindResume},
	}
}

// Stopper is the part of the action tracker the router drives.
type Stopper interface {
	StopAll()
	Resume()
}

// Option configures a [Router].
type Option func(*Router)

// WithRules replaces the routing rules.
func WithRules(rules []Rule) Option {
	return func(r *Router) { r.rules = rules }
}

// Router turns command text into intents.
type Router struct {
	rules   []Rule
	stopper Stopper
}

// New returns a Router that applies stop and resume intents to stopper.
// stopper may be nil, in which case Dispatch only classifies.
func New(stopper Stopper, opts ...Option) *Router {
	r := &Router{rules: DefaultRules(), stopper: stopper}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Route classifies text without side effects.
func (r *Router) Route(text string) Intent {
	norm := strings.TrimSpace(text)
	for _, rule := range r.rules {
		if rule.Pattern.MatchString(norm) {
			return Intent{Kind: rule.Kind, Panel: rule.Panel, Text: norm}
		}
	}
	return Intent{Kind: KindChat, Text: norm}
}

// Dispatch classifies text and executes emergency stop and resume intents.
// The intent is returned so the caller can open panels or start a chat.
func (r *Router) Dispatch(text string) Intent {
	in := r.Route(text)
	switch in.Kind {
	case KindEmergencyStop:
		if r.stopper != nil {
			r.stopper.StopAll()
		}
	case KindResume:
		if r.stopper != nil {
			r.stopper.Resume()
		}
	}
	slog.Debug("voicecmd: routed command", "kind", in.Kind, "panel", in.Panel)
	return in
}
