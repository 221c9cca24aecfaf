// Package replies holds every user-visible template the support desk
// sends. Customer-facing texts are localized per language code; agent
// and operator texts stay in English. Deployments can override any
// template via YAML files without rebuilding.
package replies

import (
	"strings"
)

// Template keys. Placeholders use {name} syntax and are substituted by
// Render.
const (
	KeyChooseLanguage   = "choose_language"
	KeyLanguageSet      = "language_set"
	KeyWelcomeBack      = "welcome_back"
	KeyNeedStart        = "need_start"
	KeyNeedLanguage     = "need_language"
	KeyRequestOpened    = "request_opened"
	KeyRequestQueued    = "request_queued"
	KeyNoAgents         = "no_agents"
	KeyAssignedCustomer = "assigned_customer"
	KeyClosedCustomer   = "closed_customer"
	KeyNothingToClose   = "nothing_to_close"
	KeyHelpCustomer     = "help_customer"

	KeyStartAgent       = "start_agent"
	KeyRequestOffer     = "request_offer"
	KeyClaimButton      = "claim_button"
	KeyAssignedAgent    = "assigned_agent"
	KeyHistoryLine      = "history_line"
	KeyClaimLost        = "claim_lost"
	KeyClaimTaken       = "claim_taken"
	KeyClaimIneligible  = "claim_ineligible"
	KeyClaimUnknown     = "claim_unknown"
	KeyClosedAgent      = "closed_agent"
	KeyAgentRegistered  = "agent_registered"
	KeyLanguagesUpdated = "languages_updated"
	KeyAvailableOn      = "available_on"
	KeyAvailableOff     = "available_off"
	KeyActiveConvo      = "active_conversation"
	KeyRequestsHeader   = "requests_header"
	KeyRequestsEmpty    = "requests_empty"
	KeyRequestsLine     = "requests_line"
	KeyNoAssignment     = "no_assignment"
	KeyBadLanguages     = "bad_languages"
	KeyNotAgent         = "not_agent"
	KeyHelpAgent        = "help_agent"
	KeyUnknownCommand   = "unknown_command"
)

const fallbackLanguage = "en"

// Catalog resolves template keys per language, falling back to English
// when a language lacks a key.
type Catalog struct {
	texts map[string]map[string]string // lang -> key -> template
}

// NewCatalog returns a catalog preloaded with the built-in templates.
func NewCatalog() *Catalog {
	texts := make(map[string]map[string]string, len(builtin))
	for lang, m := range builtin {
		cp := make(map[string]string, len(m))
		for k, v := range m {
			cp[k] = v
		}
		texts[lang] = cp
	}
	return &Catalog{texts: texts}
}

// Get returns the template for key in lang, falling back to English,
// then to the key itself so a missing template is visible rather than
// silent.
func (c *Catalog) Get(lang, key string) string {
	if m, ok := c.texts[lang]; ok {
		if t, ok := m[key]; ok {
			return t
		}
	}
	if t, ok := c.texts[fallbackLanguage][key]; ok {
		return t
	}
	return key
}

// Render resolves the template and substitutes {name} placeholders.
func (c *Catalog) Render(lang, key string, args map[string]string) string {
	t := c.Get(lang, key)
	if len(args) == 0 {
		return t
	}
	pairs := make([]string, 0, len(args)*2)
	for k, v := range args {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(t)
}

// set installs an override, creating the language map on first use.
func (c *Catalog) set(lang, key, text string) {
	m, ok := c.texts[lang]
	if !ok {
		m = make(map[string]string)
		c.texts[lang] = m
	}
	m[key] = text
}

var builtin = map[string]map[string]string{
	"en": {
		KeyChooseLanguage:   "Welcome to support, {name}! Please choose your language:",
		KeyLanguageSet:      "Language set to {language}. How can we help? Describe your issue and we will connect you with an agent.",
		KeyWelcomeBack:      "Welcome back, {name}! Your support request is still {status}. Keep typing and we will pass it along.",
		KeyNeedStart:        "Please send /start to begin.",
		KeyNeedLanguage:     "Please choose your language first:",
		KeyRequestOpened:    "Thanks! Your request has been sent to our agents. Someone will pick it up shortly.",
		KeyRequestQueued:    "Got it. Your message was added to your pending request; an agent will see it when they pick it up.",
		KeyNoAgents:         "All agents for your language are busy right now. Your request is queued and will be picked up as soon as someone is free.",
		KeyAssignedCustomer: "{agent} has joined the conversation. You can chat directly now.",
		KeyClosedCustomer:   "This conversation has been closed. Send a new message any time to open another request.",
		KeyNothingToClose:   "You have no open request to close.",
		KeyHelpCustomer:     "Commands:\n/start — begin or resume a session\n/close — close your current request\n/help — this message\n\nAnything else you type goes to our support team.",

		KeyStartAgent:       "Hello {name}! You are a support agent for: {languages}. Status: {status}. Send /help for agent commands.",
		KeyRequestOffer:     "New support request ({language}) from {name}:\n\n{query}",
		KeyClaimButton:      "Claim",
		KeyAssignedAgent:    "You are now handling {name}'s request ({language}). Conversation so far:",
		KeyHistoryLine:      "[{sender}] {body}",
		KeyClaimLost:        "Request {request} was claimed by another agent.",
		KeyClaimTaken:       "Too late — that request was already claimed or closed.",
		KeyClaimIneligible:  "You cannot claim this request: {reason}.",
		KeyClaimUnknown:     "That request no longer exists.",
		KeyClosedAgent:      "Conversation {request} closed.",
		KeyAgentRegistered:  "You are registered as a support agent for: {languages}. You are marked available.",
		KeyLanguagesUpdated: "Your languages are now: {languages}.",
		KeyAvailableOn:      "You are now available and will receive new request offers.",
		KeyAvailableOff:     "You are now unavailable. You will not receive new offers; any active conversation stays with you.",
		KeyActiveConvo:      "Your active conversation: [{language}] {name}: {query}",
		KeyRequestsHeader:   "Open requests you can claim:",
		KeyRequestsEmpty:    "No open requests match your languages right now.",
		KeyRequestsLine:     "{index}. [{language}] {name}: {query}",
		KeyNoAssignment:     "You have no active conversation. Claim a request first with /requests.",
		KeyBadLanguages:     "None of those language codes are supported. Supported: {languages}.",
		KeyNotAgent:         "You are not registered as an agent. Use /register_agent <languages> first.",
		KeyHelpAgent:        "Agent commands:\n/register_agent <lang...> — register with languages, e.g. /register_agent en es\n/languages <lang...> — update your languages\n/status_toggle — toggle availability\n/requests — list claimable requests\n/close — close your active conversation\n\nPlain text goes to the customer of your active conversation.",
		KeyUnknownCommand:   "Unknown command. Send /help for the list.",
	},
	"es": {
		KeyChooseLanguage:   "¡Bienvenido al soporte, {name}! Por favor elige tu idioma:",
		KeyLanguageSet:      "Idioma configurado a {language}. ¿En qué podemos ayudarte? Describe tu problema y te conectaremos con un agente.",
		KeyWelcomeBack:      "¡Hola de nuevo, {name}! Tu solicitud sigue {status}. Sigue escribiendo y se lo haremos llegar.",
		KeyNeedLanguage:     "Primero elige tu idioma:",
		KeyRequestOpened:    "¡Gracias! Tu solicitud fue enviada a nuestros agentes. Alguien la atenderá en breve.",
		KeyRequestQueued:    "Recibido. Tu mensaje se añadió a tu solicitud pendiente; el agente lo verá al tomarla.",
		KeyNoAgents:         "Todos los agentes para tu idioma están ocupados. Tu solicitud quedó en cola y será atendida en cuanto alguien se libere.",
		KeyAssignedCustomer: "{agent} se ha unido a la conversación. Ya pueden chatear directamente.",
		KeyClosedCustomer:   "Esta conversación se ha cerrado. Escríbenos cuando quieras para abrir otra solicitud.",
		KeyNothingToClose:   "No tienes ninguna solicitud abierta que cerrar.",
		KeyHelpCustomer:     "Comandos:\n/start — iniciar o retomar una sesión\n/close — cerrar tu solicitud actual\n/help — este mensaje\n\nTodo lo demás que escribas llega a nuestro equipo de soporte.",
	},
	"fr": {
		KeyChooseLanguage:   "Bienvenue au support, {name} ! Veuillez choisir votre langue :",
		KeyLanguageSet:      "Langue définie sur {language}. Comment pouvons-nous vous aider ? Décrivez votre problème et nous vous mettrons en relation avec un agent.",
		KeyWelcomeBack:      "Bon retour, {name} ! Votre demande est toujours {status}. Continuez à écrire, nous transmettons.",
		KeyNeedLanguage:     "Veuillez d'abord choisir votre langue :",
		KeyRequestOpened:    "Merci ! Votre demande a été transmise à nos agents. Quelqu'un va la prendre en charge sous peu.",
		KeyRequestQueued:    "Bien reçu. Votre message a été ajouté à votre demande en attente ; l'agent le verra en la prenant.",
		KeyNoAgents:         "Tous les agents pour votre langue sont occupés. Votre demande est en file d'attente et sera traitée dès que possible.",
		KeyAssignedCustomer: "{agent} a rejoint la conversation. Vous pouvez discuter directement.",
		KeyClosedCustomer:   "Cette conversation est terminée. Écrivez-nous à tout moment pour ouvrir une nouvelle demande.",
		KeyNothingToClose:   "Vous n'avez aucune demande ouverte à fermer.",
		KeyHelpCustomer:     "Commandes :\n/start — démarrer ou reprendre une session\n/close — fermer votre demande en cours\n/help — ce message\n\nTout autre texte est transmis à notre équipe de support.",
	},
	"de": {
		KeyChooseLanguage:   "Willkommen beim Support, {name}! Bitte wähle deine Sprache:",
		KeyLanguageSet:      "Sprache auf {language} gesetzt. Wie können wir helfen? Beschreibe dein Anliegen und wir verbinden dich mit einem Agenten.",
		KeyWelcomeBack:      "Willkommen zurück, {name}! Deine Anfrage ist noch {status}. Schreib einfach weiter, wir leiten es weiter.",
		KeyNeedLanguage:     "Bitte wähle zuerst deine Sprache:",
		KeyRequestOpened:    "Danke! Deine Anfrage wurde an unsere Agenten geschickt. Jemand übernimmt sie in Kürze.",
		KeyRequestQueued:    "Verstanden. Deine Nachricht wurde deiner offenen Anfrage hinzugefügt; der Agent sieht sie bei Übernahme.",
		KeyNoAgents:         "Alle Agenten für deine Sprache sind gerade beschäftigt. Deine Anfrage ist in der Warteschlange und wird übernommen, sobald jemand frei ist.",
		KeyAssignedCustomer: "{agent} ist dem Gespräch beigetreten. Ihr könnt jetzt direkt chatten.",
		KeyClosedCustomer:   "Dieses Gespräch wurde beendet. Schreib uns jederzeit, um eine neue Anfrage zu öffnen.",
		KeyNothingToClose:   "Du hast keine offene Anfrage zum Schließen.",
		KeyHelpCustomer:     "Befehle:\n/start — Sitzung starten oder fortsetzen\n/close — aktuelle Anfrage schließen\n/help — diese Nachricht\n\nAlles andere geht an unser Support-Team.",
	},
}

// LanguageLabel maps a code to its native display name for the
// language picker. Unknown codes render as the bare code.
func LanguageLabel(code string) string {
	switch code {
	case "en":
		return "English"
	case "es":
		return "Español"
	case "fr":
		return "Français"
	case "de":
		return "Deutsch"
	default:
		return code
	}
}
