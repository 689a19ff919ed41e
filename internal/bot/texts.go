package bot

import (
	"fmt"
	"html"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// User-visible texts. They use the minimal HTML markup accepted by Telegram.
const (
	StartText = "Ciao! Sono un bot che permette di trascrivere i messaggi vocali. " +
		"Inviami o inoltrami un vocale e ti risponderò con il testo.\n\n" +
		"Puoi aggiungermi ai gruppi: trascriverò i vocali di chi ha accettato i termini di servizio.\n\n" +
		"Usa /tips per qualche suggerimento, /disclaimer per leggere come vengono trattati i tuoi dati " +
		"e /optout se non vuoi che i tuoi vocali vengano trascritti."

	TipsText = "<b>Alcuni suggerimenti sull'utilizzo del bot</b>\n\n" +
		"- Parla chiaramente e vicino al microfono, evitando rumori di fondo\n" +
		"- I vocali più lunghi di un minuto richiedono più tempo per essere trascritti\n" +
		"- Il numero in pedice alla fine della trascrizione indica l'affidabilità del risultato, " +
		"seguito dal tempo impiegato in secondi\n" +
		"- Le trascrizioni lunghe vengono divise in più messaggi collegati tra loro"

	ConsentPromptText = "Affinchè il bot possa trascrivere i tuoi messaggi vocali qui e nei gruppi, " +
		"è necessario che tu legga l'informativa sul trattamento dei dati personali"

	DisclaimerText = "<b>Informativa sul trattamento dei dati personali</b>\n\n" +
		"I messaggi vocali che il bot trascrive vengono scaricati temporaneamente e inviati al servizio " +
		"di riconoscimento vocale di Google Cloud. Il file audio viene cancellato al termine della " +
		"trascrizione, salvo errori che ne richiedano l'analisi.\n\n" +
		"Il bot conserva il tuo identificativo Telegram, il tuo nome e le tue preferenze. " +
		"Della trascrizione vengono salvate solo statistiche (durata del vocale e tempo impiegato), mai il testo.\n\n" +
		"Accettando, permetti al bot di trascrivere i tuoi vocali in privato e nei gruppi in cui è presente. " +
		"Puoi revocare il consenso in qualsiasi momento con /tos."

	RevokePromptText = "<b>TL;DR</b>: hai acconsentito alla trascrizione dei tuoi messaggi vocali. " +
		"Se revochi il consenso il bot ignorerà i tuoi vocali, in privato e nei gruppi."

	AgreedText  = "Ottimo, adesso il bot potrà trascrivere i tuoi messaggi vocali. Ricordati che puoi usare /tos per revocare il tuo consenso"
	RevokedText = "Consenso revocato. D'ora in avanti il bot ignorerà i tuoi messaggi vocali"

	OptOutText = "Ok, d'ora in avanti ignorerò i tuoi vocali, anche nei gruppi. Se cambi idea, usa /optin"
	OptInText  = "Ok, non ignorerò più i tuoi vocali. Se ci ripensi, usa /optout"

	HiddenSenderText = "Mi dispiace, il mittente di questo messaggio vocale ha reso il proprio account non " +
		"accessibile tramite i messaggi inoltrati, quindi non posso verificare che abbia accettato i termini di servizio"
	NotConsentedText = "Mi dispiace, il mittente di questo messaggio non ha acconsentito al trattamento dei suoi dati"
	TooLargeText     = "Questo vocale è troppo pesante"
	FallbackText     = "Hmm, non capisco cosa tu voglia dire. Inviami/inoltrami un messaggio vocale per trascriverlo, " +
		"oppure usa /start per più info"

	IgnoreConsentOnText  = "I messaggi vocali in questa chat verranno trascritti a prescindere dalla volontà di chi li invia"
	IgnoreConsentOffText = "I messaggi vocali in questa chat verranno trascritti solo se chi li invia ha acconsentito " +
		"alle modalità dei trattamenti dei propri dati"

	ReplyToUserText          = "Rispondi ad un utente"
	AdminAlreadySuperText    = "Gli amministratori del bot sono già superuser"
	ReplyToForwardedUserText = "Rispondi al messaggio inoltrato il cui mittente originale è un utente"
	SenderHiddenText         = "Il mittente ha nascosto il proprio account"
	NoSuperusersText         = "Non ci sono superuser salvati"
	ReplyToVoiceText         = "Rispondi ad un messaggio vocale"
	GroupOnlyText            = "Questo comando funziona solo nei gruppi"

	OptedInStatusText  = "Il bot trascrive i tuoi vocali"
	OptedOutStatusText = "Il bot ignora i tuoi vocali"
)

// Callback data of the consent keyboards.
const (
	CallbackShowTOS   = "tos:show"
	CallbackAgreeTOS  = "tos:agree"
	CallbackRevokeTOS = "tos:revoke"
)

func superuserText(name string, on bool) string {
	if on {
		return fmt.Sprintf("%s è superuser, potrà aggiungermi a gruppi/inoltrarmi vocali da trascrivere", html.EscapeString(name))
	}
	return fmt.Sprintf("%s non è più superuser", html.EscapeString(name))
}

func superusersText(names []string) string {
	return "Superuser: " + strings.Join(names, ", ")
}

func cleanedText(n int) string {
	return fmt.Sprintf("File cancellati: %d", n)
}

func adminsSavedText(n int) string {
	return fmt.Sprintf("Fatto, %d amministratori salvati", n)
}

// ErrorText renders a handler error for the user.
func ErrorText(err error) string {
	return fmt.Sprintf("Si è verificato un errore durante l'elaborazione del messaggio: <code>%s</code>", html.EscapeString(err.Error()))
}

func keyboard(text, data string) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData(text, data)),
	)
}

func showTOSKeyboard() tgbotapi.InlineKeyboardMarkup {
	return keyboard("leggi disclaimer", CallbackShowTOS)
}

func agreeKeyboard() tgbotapi.InlineKeyboardMarkup {
	return keyboard("accetto", CallbackAgreeTOS)
}

func revokeKeyboard() tgbotapi.InlineKeyboardMarkup {
	return keyboard("revoco il consenso", CallbackRevokeTOS)
}

// Command menus.
var (
	userCommands = []tgbotapi.BotCommand{
		{Command: "start", Description: "messaggio di benvenuto"},
		{Command: "tips", Description: "alcuni suggerimenti sull'utilizzo del bot"},
		{Command: "optin", Description: "permetti al bot di trascrivere i tuoi vocali"},
		{Command: "optout", Description: "il bot non trascriverà più i tuoi vocali"},
	}
	adminCommands = []tgbotapi.BotCommand{
		{Command: "superuser", Description: "rendi superuser l'utente a cui rispondi"},
		{Command: "superusers", Description: "elenca i superuser"},
		{Command: "cleandl", Description: "cancella i file scaricati"},
		{Command: "parse", Description: "analizza il vocale a cui rispondi"},
		{Command: "testignore", Description: "verifica se il vocale a cui rispondi verrebbe ignorato"},
	}
)
