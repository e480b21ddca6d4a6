// Package i18n selects message printers for CLI output and portal pages.
package i18n

import (
	"context"
	"os"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// DefaultLang is the fallback language
var DefaultLang = language.English

// SupportedLangs are the languages the portal pages are translated to.
var SupportedLangs = []language.Tag{
	language.English,
	language.Italian,
}

var matcher = language.NewMatcher(SupportedLangs)

type contextKey struct{}

var printerKey = contextKey{}

// Portal page messages. The English text doubles as the catalog key.
const (
	MsgUnknownDevice = "Your device could not be identified on this network."
	MsgFull          = "The network is not accepting new clients right now."
	MsgStaleLink     = "This login link has expired. Please start again."
	MsgGrantFailed   = "Access could not be granted right now."
	MsgSlowDown      = "Too many attempts. Please wait a minute and try again."
)

func init() {
	it := language.Italian
	message.SetString(it, MsgUnknownDevice, "Non è stato possibile identificare il tuo dispositivo su questa rete.")
	message.SetString(it, MsgFull, "La rete non accetta nuovi client in questo momento.")
	message.SetString(it, MsgStaleLink, "Questo link di accesso è scaduto. Ricomincia da capo.")
	message.SetString(it, MsgGrantFailed, "Non è stato possibile concedere l'accesso in questo momento.")
	message.SetString(it, MsgSlowDown, "Troppi tentativi. Attendi un minuto e riprova.")
}

// MatchLanguage returns the best matching language for an Accept-Language value.
func MatchLanguage(acceptLang string) language.Tag {
	tags, _, _ := language.ParseAcceptLanguage(acceptLang)
	tag, _, _ := matcher.Match(tags...)
	return tag
}

// NewPrinter returns a message printer for the given language
func NewPrinter(tag language.Tag) *message.Printer {
	return message.NewPrinter(tag)
}

// WithPrinter returns a new context with the printer injected
func WithPrinter(ctx context.Context, p *message.Printer) context.Context {
	return context.WithValue(ctx, printerKey, p)
}

// GetPrinter returns the printer from the context, or a default one
func GetPrinter(ctx context.Context) *message.Printer {
	p, ok := ctx.Value(printerKey).(*message.Printer)
	if !ok {
		return message.NewPrinter(DefaultLang)
	}
	return p
}

// NewCLIPrinter returns a printer for the system's locale (from env vars)
func NewCLIPrinter() *message.Printer {
	lang := os.Getenv("LC_ALL")
	if lang == "" {
		lang = os.Getenv("LANG")
	}
	if lang == "" {
		return message.NewPrinter(DefaultLang)
	}

	// en_US.UTF-8 -> en_US
	if i := strings.Index(lang, "."); i != -1 {
		lang = lang[:i]
	}

	tag, err := language.Parse(lang)
	if err != nil {
		tag = MatchLanguage(lang)
	} else {
		tag, _, _ = matcher.Match(tag)
	}
	return message.NewPrinter(tag)
}
