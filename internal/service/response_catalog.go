package service

import (
	"html"
	"regexp"
	"time"

	"apoyo-citas/internal/domain"
)

// MenuOptions es el conjunto completo de respuestas rápidas del saludo.
var MenuOptions = []string{"Estrés académico", "Ansiedad", "Tristeza", "Agendar cita"}

const (
	bookingURL   = "https://tu-centro.example/agenda"
	resourcesURL = "https://tu-centro.example/recursos"
)

var emotionTemplates = map[domain.EmotionCategory]domain.ResponseTemplate{
	domain.EmotionCrisis: {
		Text: "Lo que sientes importa y no tienes que pasarlo a solas. Si estás en peligro inmediato, llama al 911.\n\n" +
			"En México también puedes marcar la Línea de la Vida: 800 911 2000 (24 horas, gratuita y confidencial).\n\n" +
			"Si puedes, quédate cerca de alguien de confianza mientras hablas con ellos. ¿Quieres que te muestre contactos de emergencia o abrir recursos?",
		Options:   []string{"Contactos de emergencia", "Abrir recursos", "Hablar con un profesional"},
		Emergency: true,
	},
	domain.EmotionAnxiety: {
		Text: "🌿 Grounding rápido: nombra 5 cosas que ves, 4 que puedes tocar, 3 que oyes, 2 que hueles y 1 que saboreas.\n\n" +
			"Después respira lento, con la exhalación más larga que la inhalación. Si esto te pasa seguido, podemos agendar una cita.",
		Options: []string{"Grounding guiado", "Agendar cita", "Recursos de emergencia"},
	},
	domain.EmotionStress: {
		Text: "📌 Técnica rápida para el estrés: respira 4s, retén 4s, exhala 6s. Haz 4 ciclos.\n\n" +
			"Luego escribe tus pendientes y elige sólo uno para la próxima hora. ¿Quieres que te muestre un plan para priorizar tareas?",
		Options: []string{"Plan de prioridades", "Ejercicios respiratorios", "Hablar con un profesional"},
	},
	domain.EmotionDepression: {
		Text: "💙 Sentirse triste es válido. Pequeños pasos ayudan: caminar 10 minutos, escribir 3 cosas buenas del día, hablar con alguien.\n\n" +
			"¿Quieres ideas para journaling?",
		Options: []string{"Ejercicios de ánimo", "Journaling", "Hablar ahora"},
	},
	domain.EmotionOther: {
		Text:    "Entiendo, eso suena difícil. ¿Quieres contarme qué lo desencadenó o prefieres que te proponga técnicas rápidas para calmarte?",
		Options: []string{"Contarte mi desencadenante", "Técnicas rápidas"},
	},
}

var intentTemplates = map[domain.Intent]domain.ResponseTemplate{
	domain.IntentAppointment: {
		Text: "Puedes agendar con nuestra psicóloga aquí: " + bookingURL + " o desde la sección Mis Citas. Si te parece, puedo guiarte en el proceso.",
	},
	domain.IntentResources: {
		Text: "Contactos de emergencia:\n• Emergencias: 911\n• Línea de la Vida: 800 911 2000 (24 h)\n\n" +
			"Más recursos de apoyo en " + resourcesURL,
		Options: []string{"Hablar con un profesional"},
	},
	domain.IntentFarewell: {
		Text: "Gracias por contarme. Estoy aquí cuando me necesites. Cuídate ❤️",
	},
}

var fallbackTemplate = domain.ResponseTemplate{
	Text: "Perdón, hubo un error. ¿Puedes intentar de nuevo?",
}

// ResponseCatalog mapea categorías e intenciones a guiones fijos.
type ResponseCatalog struct{}

var DefaultResponseCatalog = ResponseCatalog{}

// TemplateFor devuelve una copia de la plantilla de la categoría.
func (ResponseCatalog) TemplateFor(category domain.EmotionCategory) domain.ResponseTemplate {
	tmpl, ok := emotionTemplates[category]
	if !ok {
		tmpl = emotionTemplates[domain.EmotionOther]
	}
	return cloneTemplate(tmpl)
}

// TemplateForIntent devuelve la plantilla de la intención, si existe.
func (ResponseCatalog) TemplateForIntent(intent domain.Intent) (domain.ResponseTemplate, bool) {
	tmpl, ok := intentTemplates[intent]
	if !ok {
		return domain.ResponseTemplate{}, false
	}
	return cloneTemplate(tmpl), true
}

func (ResponseCatalog) Fallback() domain.ResponseTemplate {
	return cloneTemplate(fallbackTemplate)
}

// Greeting depende de la hora local de now.
func (ResponseCatalog) Greeting(now time.Time) domain.ResponseTemplate {
	salute := "Buenas noches"
	switch h := now.Hour(); {
	case h >= 5 && h < 12:
		salute = "Buenos días"
	case h >= 12 && h < 19:
		salute = "Buenas tardes"
	}
	return domain.ResponseTemplate{
		Text: "¡" + salute + "! Soy Apoyo Emocional ITSMIGRA, tu asistente confidencial para primeros auxilios emocionales. " +
			"¿Cómo te sientes hoy? (Ej: estrés, ansiedad, tristeza)",
		Options: append([]string(nil), MenuOptions...),
	}
}

func cloneTemplate(t domain.ResponseTemplate) domain.ResponseTemplate {
	t.Options = append([]string{}, t.Options...)
	return t
}

var urlPattern = regexp.MustCompile(`https?://[\w\-._~:/?#\[\]@!$&'()*+,;=%]+`)

// RenderSafe escapa el texto y convierte sólo las URLs http(s) en enlaces.
func RenderSafe(text string) string {
	if text == "" {
		return ""
	}
	safe := html.EscapeString(text)
	return urlPattern.ReplaceAllStringFunc(safe, func(url string) string {
		return `<a href="` + url + `" target="_blank" rel="noopener noreferrer">` + url + `</a>`
	})
}
