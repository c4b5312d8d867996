package service

import (
	"regexp"
	"strings"

	"apoyo-citas/internal/domain"
)

// EmotionClassifier es una tabla de decisión: la primera regla que coincide gana.
type EmotionClassifier struct{}

// DefaultEmotionClassifier permite uso directo sin instanciar.
var DefaultEmotionClassifier = EmotionClassifier{}

type emotionRule struct {
	category domain.EmotionCategory
	pattern  *regexp.Regexp
}

type intentRule struct {
	intent  domain.Intent
	pattern *regexp.Regexp
}

// Límites de palabra que aceptan puntuación además de espacios.
const (
	wordStart = `(^|[^\p{L}\d])`
	wordEnd   = `([^\p{L}\d]|$)`
)

// El orden importa: crisis va primero porque un falso negativo ahí es el peor error.
// Los dígitos sueltos son atajos del menú inicial. "presión" exige inicio de
// palabra para no capturar "depresión".
var emotionRules = []emotionRule{
	{
		category: domain.EmotionCrisis,
		pattern: regexp.MustCompile(`suicid|morir|no quiero vivir|quitarme la vida|matarme|` +
			`hacerme da[ñn]o|autolesi|cortarme|acabar con todo|no vale la pena vivir`),
	},
	{
		category: domain.EmotionAnxiety,
		pattern:  regexp.MustCompile(`ansiedad|ansios[oa]|p[áa]nico|nervios|angusti|` + wordStart + `2` + wordEnd),
	},
	{
		category: domain.EmotionStress,
		pattern:  regexp.MustCompile(`estr[ée]s|estresad|` + wordStart + `presi[óo]n|agobi|sobrecarg|saturad|` + wordStart + `1` + wordEnd),
	},
	{
		category: domain.EmotionDepression,
		pattern: regexp.MustCompile(`triste|depresi[óo]n|deprimid|melanc|soledad|` +
			`me siento sol[oa]|aislad|` + wordStart + `3` + wordEnd),
	},
}

var intentRules = []intentRule{
	{
		intent:  domain.IntentAppointment,
		pattern: regexp.MustCompile(`cita|agenda|reservar|profesional|psic[óo]log|` + wordStart + `4` + wordEnd),
	},
	{
		intent:  domain.IntentResources,
		pattern: regexp.MustCompile(`emergencia|contactos|recursos|l[íi]nea de la vida`),
	},
	{
		intent:  domain.IntentFarewell,
		pattern: regexp.MustCompile(`gracias|bye|ad[íi]os|nos vemos`),
	},
}

// Classify asigna la categoría emocional. No tiene efectos secundarios.
func (EmotionClassifier) Classify(text string) domain.EmotionCategory {
	normalized := strings.ToLower(strings.TrimSpace(text))
	for _, rule := range emotionRules {
		if rule.pattern.MatchString(normalized) {
			return rule.category
		}
	}
	return domain.EmotionOther
}

// DetectIntent sólo aplica a textos sin categoría emocional.
func (c EmotionClassifier) DetectIntent(text string) domain.Intent {
	if c.Classify(text) != domain.EmotionOther {
		return domain.IntentNone
	}
	normalized := strings.ToLower(strings.TrimSpace(text))
	for _, rule := range intentRules {
		if rule.pattern.MatchString(normalized) {
			return rule.intent
		}
	}
	return domain.IntentNone
}
