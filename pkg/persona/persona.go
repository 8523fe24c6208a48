// Package persona holds Layza's canned voice: greetings, subject labels,
// the welcome message, loading phrases, and star-feedback replies.
package persona

import (
	"fmt"
	"math/rand"
	"time"

	"layza/pkg/domain"
)

// Greeting returns the time-of-day greeting for the given instant.
func Greeting(now time.Time) string {
	hour := now.Hour()
	switch {
	case hour < 12:
		return "Bom dia"
	case hour < 18:
		return "Boa tarde"
	default:
		return "Boa noite"
	}
}

// SubjectEmoji maps a subject to its emoji.
func SubjectEmoji(subject domain.Subject) string {
	switch subject {
	case domain.SubjectMath:
		return "🧮"
	case domain.SubjectScience:
		return "🧪"
	case domain.SubjectPortuguese:
		return "📚"
	default:
		return "📝"
	}
}

// SubjectName maps a subject to its display name.
func SubjectName(subject domain.Subject) string {
	switch subject {
	case domain.SubjectMath:
		return "Matemática"
	case domain.SubjectScience:
		return "Ciências"
	case domain.SubjectPortuguese:
		return "Português"
	default:
		return "Disciplina"
	}
}

// WelcomeText builds the assistant greeting that opens every conversation.
func WelcomeText(subject domain.Subject, now time.Time) string {
	return fmt.Sprintf(
		"%s! Eu sou a Layza! %s Tô aqui pra te ajudar com %s! Como posso te ajudar hoje? Quer resolver alguma questão ou tem alguma dúvida específica?",
		Greeting(now), SubjectEmoji(subject), SubjectName(subject),
	)
}

// ConversationTitle labels a new conversation with its creation date.
func ConversationTitle(now time.Time) string {
	return "Nova conversa - " + now.Format("02/01/2006")
}

var loadingMessages = []string{
	"Estou pensando... ⏳",
	"Analisando sua pergunta... 🔍",
	"Só um momento! 😊",
	"Preparando uma resposta incrível... ✨",
	"Quase lá! 🚀",
	"Consultando meu conhecimento... 📚",
}

// LoadingMessages returns every placeholder phrase.
func LoadingMessages() []string {
	out := make([]string, len(loadingMessages))
	copy(out, loadingMessages)
	return out
}

// RandomLoadingMessage picks one placeholder phrase.
func RandomLoadingMessage() string {
	return loadingMessages[rand.Intn(len(loadingMessages))]
}

// StarFeedbackMessage is Layza's reply to a 1-5 star rating.
func StarFeedbackMessage(rating int) string {
	switch rating {
	case 1:
		return "Poxa, sinto muito! 😔 Vou me esforçar pra melhorar!"
	case 2:
		return "Hmm, preciso melhorar! 🤔 Obrigada pelo feedback!"
	case 3:
		return "3 estrelas! TÁ NO CAMINHO CERTO! 🌟🌟🌟"
	case 4:
		return "QUE LEGAL! 4 ESTRELAS! 🌟🌟🌟🌟 Muito obrigada!"
	case 5:
		return "5 ESTRELAS! Você é INCRÍVEL! ⭐⭐⭐⭐⭐ SUPER obrigada!"
	default:
		return "Obrigada pelo seu feedback! 💖"
	}
}

// Truncate shortens text to maxLen runes, appending an ellipsis when cut.
func Truncate(text string, maxLen int) string {
	runes := []rune(text)
	if len(runes) <= maxLen {
		return text
	}
	return string(runes[:maxLen]) + "..."
}
