package faqbot

const (
	DefaultAppName = "faqbot"

	DefaultConfigName = "config"
	DefaultConfigType = "yaml"
	DefaultEnvPrefix  = "FAQBOT"

	DefaultServerAddr    = ":8000"
	DefaultAllowedOrigin = "http://localhost:4200"

	DefaultOllamaURL      = "http://localhost:11434"
	DefaultEmbeddingModel = "mxbai-embed-large"
	DefaultChatModel      = "llama3.2:1b"

	DefaultStorePath  = "./faq_store/faq.db"
	DefaultCollection = "faq_test"
	DefaultCSVPath    = "faq_test.csv"

	DefaultSessionCookie = "faqbot_session"
	DefaultSessionHeader = "X-Session-ID"

	// DefaultErrorMessage is returned to the caller whenever a request fails internally.
	DefaultErrorMessage = "Désolé, une erreur technique est survenue. Veuillez réessayer."
	// DefaultRateLimitMessage is returned when a session exceeds its request budget.
	DefaultRateLimitMessage = "Vous envoyez trop de messages. Merci de patienter quelques secondes avant de réessayer."
)

// DefaultConfigSearchPaths lists the directories searched for config.yaml when no explicit path is given.
var DefaultConfigSearchPaths = []string{".", "./config", "$HOME/.config/faqbot", "/etc/faqbot"}

var DefaultSarcasmKeywords = []string{
	"super efficace", "génial", "bravo", "n’importe quoi", "top", "incroyable", "une blague",
	"excellent", "trop bien", "trop fort", "trop cool", "trop marrant", "trop drôle",
}

var DefaultInsultKeywords = []string{
	"nul", "incompétent", "idiot", "imbécile", "moquerie", "cata", "catastrophe", "stupide", "débile", "connard",
}

var DefaultSarcasmResponses = []string{
	"Je comprends que vous puissiez être frustré. Comment puis-je mieux vous aider ?",
	"Je note votre feedback. Pouvez-vous reformuler votre demande ?",
	"Mon but est de vous aider efficacement. Quelle est votre question sur TuN ?",
}

var DefaultInsultResponses = []string{
	"Je maintiens un ton respectueux. Comment puis-je vous aider concernant TuN ?",
	"Je suis ici pour aider. Avez-vous une question sur nos services ?",
	"Passons à une discussion constructive. Que puis-je faire pour vous ?",
}

var DefaultFallbackResponses = []string{
	"Je suis désolé, je n'ai pas trouvé d'information claire à ce sujet. Puis-je vous aider sur autre chose ?",
	"Malheureusement, je ne trouve pas de réponse dans les documents. Souhaitez-vous reformuler votre question ?",
	"Je n'ai pas l'information pour le moment, mais je suis à votre disposition si vous avez d'autres questions.",
	"Je ne dispose pas d'information concernant cette question. N'hésitez pas à poser d'autres questions sur TuN !",
}
